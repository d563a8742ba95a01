package beam

// Ratio returns secondary / primary and true when both total counts are
// strictly positive. Otherwise it returns false and the caller keeps the
// last published ratio.
func Ratio(primary, secondary float64) (float64, bool) {
	if primary > 0 && secondary > 0 {
		return secondary / primary, true
	}
	return 0, false
}
