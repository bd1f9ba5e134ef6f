package stats

// ClipColumn clips values to the given lower and upper percentiles, in place.
func ClipColumn(x []float64, lower, upper float64) {
	lo := Percentile(x, lower)
	hi := Percentile(x, upper)
	for i, v := range x {
		if v < lo {
			x[i] = lo
		} else if v > hi {
			x[i] = hi
		}
	}
}
