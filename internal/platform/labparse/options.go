package labparse

// Options holds the layout heuristics thresholds. Lengths are in characters,
// windows in lines after the anchoring line.
type Options struct {
	// CategoryMaxLineLength: only shorter lines can be panel headings.
	CategoryMaxLineLength int
	// VerticalWindow bounds the vertical block scan after a name line.
	VerticalWindow int
	// ValueWindow bounds the "= value" search of the equals block.
	ValueWindow int
	// IntervalWindow bounds the "[min - max]" search after the value line.
	IntervalWindow int
	MinNameLength  int
	// MinMarkedLineLength: shorter lines are ignored by the marked layout.
	MinMarkedLineLength int
	// HeaderFooterMaxLength: only shorter lines are checked against skip patterns.
	HeaderFooterMaxLength int
}

// DefaultOptions returns the thresholds tuned on the sample reports.
func DefaultOptions() Options {
	return Options{
		CategoryMaxLineLength: 60,
		VerticalWindow:        5,
		ValueWindow:           3,
		IntervalWindow:        3,
		MinNameLength:         3,
		MinMarkedLineLength:   10,
		HeaderFooterMaxLength: 80,
	}
}

// withDefaults replaces non-positive fields with their defaults.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	pick := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}
	return Options{
		CategoryMaxLineLength: pick(o.CategoryMaxLineLength, d.CategoryMaxLineLength),
		VerticalWindow:        pick(o.VerticalWindow, d.VerticalWindow),
		ValueWindow:           pick(o.ValueWindow, d.ValueWindow),
		IntervalWindow:        pick(o.IntervalWindow, d.IntervalWindow),
		MinNameLength:         pick(o.MinNameLength, d.MinNameLength),
		MinMarkedLineLength:   pick(o.MinMarkedLineLength, d.MinMarkedLineLength),
		HeaderFooterMaxLength: pick(o.HeaderFooterMaxLength, d.HeaderFooterMaxLength),
	}
}
