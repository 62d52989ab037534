package mapreduce

import "sort"

// recordOverhead is a nominal per-record bookkeeping cost folded into a
// Silo's BytesUsed total alongside each record's payload size, so the
// map-phase memory threshold accounts for more than just raw data bytes.
const recordOverhead = 24

// Silo is an append-only, per-worker buffer of Records filled during a
// map phase and later sorted and merge-scanned during the following
// reduce phase. Unlike the arena-backed silo this is modeled on, a Go
// Silo simply owns a growing slice of copied record data; clear keeps
// the slice's storage for reuse and leaves the dropped record copies to
// the garbage collector. A hand-rolled bump allocator
// buys nothing here since Go already amortizes slice growth.
type Silo struct {
	recs      []Record
	bytesUsed int
}

func newSilo() *Silo {
	return &Silo{}
}

// Empty reports whether the silo holds no records.
func (s *Silo) Empty() bool { return len(s.recs) == 0 }

// BytesUsed returns the silo's approximate memory footprint, used to
// order silos from emptiest to fullest and to decide when a silo should
// be parked for the reduce phase.
func (s *Silo) BytesUsed() int { return s.bytesUsed }

// Records returns the silo's records in their current order: insertion
// order until sort is called, ascending key order afterward.
func (s *Silo) Records() []Record { return s.recs }

// Add appends a record to the silo. data is copied, so the caller's
// buffer (typically a shared input block) may be reused or discarded
// once Add returns.
func (s *Silo) Add(key Key, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.recs = append(s.recs, Record{Key: key, Data: cp})
	s.bytesUsed += len(cp) + recordOverhead
}

func (s *Silo) sort() {
	sort.Slice(s.recs, func(i, j int) bool { return s.recs[i].Key.Less(s.recs[j].Key) })
}

// clear empties the silo for reuse in the next map phase, retaining its
// underlying storage.
func (s *Silo) clear() {
	s.recs = s.recs[:0]
	s.bytesUsed = 0
}

// siloHeap is a min-heap of silo pointers ordered by BytesUsed, so that
// popping it always yields the emptiest silo not yet parked — the one a newly
// freed mapper should fill next.
type siloHeap []*Silo

func (h siloHeap) Len() int            { return len(h) }
func (h siloHeap) Less(i, j int) bool  { return h[i].bytesUsed < h[j].bytesUsed }
func (h siloHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *siloHeap) Push(x interface{}) { *h = append(*h, x.(*Silo)) }
func (h *siloHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
