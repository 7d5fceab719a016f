package labparse

// Format names one of the line layouts the engine can decode.
type Format string

const (
	FormatInlineEquals       Format = "inline_equals"
	FormatNumberedTabular    Format = "numbered_tabular"
	FormatUnitAnchored       Format = "unit_anchored"
	FormatUnitAnchoredMarked Format = "unit_anchored_marked"
	FormatGroupedValue       Format = "grouped_value"
	FormatVerticalBlock      Format = "vertical_block"
	FormatCodedBlock         Format = "coded_block"
	FormatEqualsBlock        Format = "equals_block"
	FormatGeneric            Format = "generic"
)

// strategies maps each Format to its scan. Every scan is one forward pass
// that reads s.lines and appends to s.records.
var strategies = map[Format]func(*scanner){
	FormatInlineEquals:       scanInlineEquals,
	FormatNumberedTabular:    scanNumberedTabular,
	FormatUnitAnchored:       scanUnitAnchored,
	FormatUnitAnchoredMarked: scanUnitAnchoredMarked,
	FormatGroupedValue:       scanGroupedValue,
	FormatVerticalBlock:      scanVerticalBlock,
	FormatCodedBlock:         scanCodedBlock,
	FormatEqualsBlock:        scanEqualsBlock,
	FormatGeneric:            scanGeneric,
}

// Valid reports whether f names a known layout.
func (f Format) Valid() bool {
	_, ok := strategies[f]
	return ok
}
