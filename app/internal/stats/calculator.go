package stats

import "math"

func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func maxMin(vs []float64) (hi, lo float64) {
	hi, lo = vs[0], vs[0]
	for _, v := range vs[1:] {
		hi = math.Max(hi, v)
		lo = math.Min(lo, v)
	}
	return hi, lo
}

// sampleStdDev uses the n-1 denominator. It needs at least two values.
func sampleStdDev(vs []float64, m float64) float64 {
	ss := 0.0
	for _, v := range vs {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vs)-1))
}

// slope is the least-squares slope of vs against the sample index 0..n-1.
// Timestamps play no part, so uneven spacing does not change it.
func slope(vs []float64) float64 {
	n := float64(len(vs))
	xMean := (n - 1) / 2
	yMean := mean(vs)

	var num, den float64
	for i, y := range vs {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}
