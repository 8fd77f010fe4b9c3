// Package stats derives corpus-wide statistics from document lengths.
package stats

// Corpus is the result of one accumulation pass.
type Corpus struct {
	AvgDocLength float64
	TotalDocs    int
}

// Accumulator sums document lengths. It is not safe for concurrent use.
type Accumulator struct {
	sum   int64
	count int
}

func (a *Accumulator) Add(length int) {
	a.sum += int64(length)
	a.count++
}

// Result returns the average length and document count. An empty corpus
// reports an average of 1.0 so BM25 never divides by zero.
func (a *Accumulator) Result() Corpus {
	if a.count == 0 {
		return Corpus{AvgDocLength: 1.0, TotalDocs: 0}
	}
	return Corpus{
		AvgDocLength: float64(a.sum) / float64(a.count),
		TotalDocs:    a.count,
	}
}

// FromLengths accumulates a full set of lengths in one call.
func FromLengths(lengths []int) Corpus {
	var a Accumulator
	for _, l := range lengths {
		a.Add(l)
	}
	return a.Result()
}
