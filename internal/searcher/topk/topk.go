// Package topk keeps the best k scored documents seen so far. Ranking is by
// score descending with ties broken by doc_id ascending.
package topk

import "container/heap"

const DefaultLimit = 10

// Hit is one ranked search result.
type Hit struct {
	DocID string  `json:"doc_id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Better reports whether a ranks ahead of b.
func Better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Collector is a bounded min-heap: the worst retained hit sits at the root
// and is evicted when a better one arrives. Not safe for concurrent use.
type Collector struct {
	limit int
	h     hitHeap
}

// New returns a collector keeping limit hits; limit <= 0 means
// DefaultLimit.
func New(limit int) *Collector {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Collector{limit: limit, h: make(hitHeap, 0, limit+1)}
}

func (c *Collector) Offer(hit Hit) {
	if c.h.Len() == c.limit && !Better(hit, c.h[0]) {
		return
	}
	heap.Push(&c.h, hit)
	if c.h.Len() > c.limit {
		heap.Pop(&c.h)
	}
}

func (c *Collector) Len() int {
	return c.h.Len()
}

// Results drains the collector, best hit first.
func (c *Collector) Results() []Hit {
	out := make([]Hit, c.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&c.h).(Hit)
	}
	return out
}

// FromScores ranks a doc_id to score map.
func FromScores(scores map[string]float64, limit int) []Hit {
	c := New(limit)
	for id, s := range scores {
		c.Offer(Hit{DocID: id, Score: s})
	}
	return c.Results()
}

type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return Better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) {
	*h = append(*h, x.(Hit))
}

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
