package labparse

// ClassifyAbnormal compares a value against inclusive bounds. A value exactly
// on a bound is normal. The lower bound is checked first.
func ClassifyAbnormal(value, min, max *float64) (bool, Direction) {
	if value == nil {
		return false, ""
	}
	if min != nil && *value < *min {
		return true, DirectionLow
	}
	if max != nil && *value > *max {
		return true, DirectionHigh
	}
	return false, ""
}

// markedDirection picks a direction for a result the laboratory flagged
// explicitly. Outside the interval the violated bound decides; inside it the
// nearer half does; with a single bound the open side does. ok is false when
// there is nothing to compare against.
func markedDirection(value, min, max *float64) (Direction, bool) {
	if value == nil {
		return "", false
	}
	if abnormal, dir := ClassifyAbnormal(value, min, max); abnormal {
		return dir, true
	}
	switch {
	case min != nil && max != nil:
		if *value >= (*min+*max)/2 {
			return DirectionHigh, true
		}
		return DirectionLow, true
	case max != nil:
		return DirectionHigh, true
	case min != nil:
		return DirectionLow, true
	}
	return "", false
}
