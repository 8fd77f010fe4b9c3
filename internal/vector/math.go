package vector

import "math"

// IDF is the TF-IDF inverse document frequency ln(n / (df + 1)). It is
// negative for terms that occur in every document.
func IDF(totalDocs, df int) float64 {
	return math.Log(float64(totalDocs) / float64(df+1))
}

func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place and returns its original
// norm. A zero vector is left unchanged.
func Normalize(v []float64) float64 {
	n := Norm(v)
	if n == 0 {
		return 0
	}
	for i := range v {
		v[i] /= n
	}
	return n
}

// Sparse is a vector stored as index/value pairs, used for queries which
// only touch a handful of dimensions.
type Sparse map[int]float64

func (s Sparse) Norm() float64 {
	var sum float64
	for _, x := range s {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func (s Sparse) Normalize() float64 {
	n := s.Norm()
	if n == 0 {
		return 0
	}
	for i := range s {
		s[i] /= n
	}
	return n
}

// Dot multiplies s with a dense vector. Indexes outside d contribute zero.
func (s Sparse) Dot(d []float64) float64 {
	var sum float64
	for i, x := range s {
		if i >= 0 && i < len(d) {
			sum += x * d[i]
		}
	}
	return sum
}
