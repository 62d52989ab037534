package mapreduce

// sortedRange is a cursor over one parked silo's sorted records, used
// to merge-scan all silos in key order during a reduce phase.
type sortedRange struct {
	recs []Record
	pos  int
}

func (r *sortedRange) empty() bool { return r.pos >= len(r.recs) }

func (r *sortedRange) cur() Record { return r.recs[r.pos] }

// advanceRun consumes and returns every record at the front of the
// range sharing the current record's key.
func (r *sortedRange) advanceRun() []Record {
	start := r.pos
	key := r.recs[start].Key
	r.pos++
	for r.pos < len(r.recs) && keysEqual(key, r.recs[r.pos].Key) {
		r.pos++
	}
	return r.recs[start:r.pos]
}

// rangeHeap is a min-heap of sortedRanges ordered by their current
// record's key, so popping it always yields the globally next record
// across every parked silo.
type rangeHeap []*sortedRange

func (h rangeHeap) Len() int           { return len(h) }
func (h rangeHeap) Less(i, j int) bool { return h[i].cur().Key.Less(h[j].cur().Key) }
func (h rangeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *rangeHeap) Push(x interface{}) {
	*h = append(*h, x.(*sortedRange))
}
func (h *rangeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
