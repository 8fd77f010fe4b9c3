// Package shuffle is the sort boundary between the map and reduce stages.
// Term records are routed to a fixed number of partitions by a hash of the
// term, so every record for a term lands in the same partition, and each
// partition is sorted by (term, doc_id) before it is reduced.
package shuffle

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/record"
)

// ByTermDoc sorts term records by term, then doc_id.
type ByTermDoc []record.TermFreq

func (a ByTermDoc) Len() int           { return len(a) }
func (a ByTermDoc) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByTermDoc) Less(i, j int) bool { return record.Less(a[i], a[j]) }

// Partition returns the partition index for term out of n.
func Partition(term string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(term))
	return int(h.Sum32()&0x7fffffff) % n
}

type bucket struct {
	mu      sync.Mutex
	records []record.TermFreq
}

// Shuffler collects map output from concurrent workers.
type Shuffler struct {
	buckets []*bucket
}

func New(partitions int) *Shuffler {
	if partitions <= 0 {
		partitions = 1
	}
	s := &Shuffler{buckets: make([]*bucket, partitions)}
	for i := range s.buckets {
		s.buckets[i] = &bucket{}
	}
	return s
}

func (s *Shuffler) Partitions() int {
	return len(s.buckets)
}

// Add routes records to their partitions. Safe for concurrent use.
func (s *Shuffler) Add(records []record.TermFreq) {
	if len(s.buckets) == 1 {
		b := s.buckets[0]
		b.mu.Lock()
		b.records = append(b.records, records...)
		b.mu.Unlock()
		return
	}
	routed := make([][]record.TermFreq, len(s.buckets))
	for _, r := range records {
		p := Partition(r.Term, len(s.buckets))
		routed[p] = append(routed[p], r)
	}
	for p, recs := range routed {
		if len(recs) == 0 {
			continue
		}
		b := s.buckets[p]
		b.mu.Lock()
		b.records = append(b.records, recs...)
		b.mu.Unlock()
	}
}

// Sorted sorts partition p in place and returns it. Call it only after all
// Add calls have returned.
func (s *Shuffler) Sorted(p int) []record.TermFreq {
	b := s.buckets[p]
	b.mu.Lock()
	defer b.mu.Unlock()
	sort.Sort(ByTermDoc(b.records))
	return b.records
}

// Len is the total number of records across partitions.
func (s *Shuffler) Len() int {
	n := 0
	for _, b := range s.buckets {
		b.mu.Lock()
		n += len(b.records)
		b.mu.Unlock()
	}
	return n
}
