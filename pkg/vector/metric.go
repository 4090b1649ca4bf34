package vector

import "math"

// Metric is a collection's distance/similarity function, fixed at creation.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
	MetricDot    Metric = "dot"
)

func (m Metric) valid() bool {
	return m == MetricCosine || m == MetricL2 || m == MetricDot
}

// higherIsBetter reports the sort direction of the metric's score.
func (m Metric) higherIsBetter() bool {
	return m != MetricL2
}

// score computes the metric between two equal-length vectors.
func (m Metric) score(a, b []float32) float64 {
	switch m {
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	case MetricDot:
		return dot(a, b)
	default: // cosine
		na := norm(a)
		nb := norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for i := range v {
		sum += float64(v[i]) * float64(v[i])
	}
	return math.Sqrt(sum)
}
