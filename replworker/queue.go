package replworker

import "github.com/xufuture/qserv-sub001/replproto"

// item is one request tracked by a Processor, whichever of the three
// queues (new/in-progress/finished) it currently lives in.
type item struct {
	id       replproto.RequestID
	kind     replproto.RequestType
	priority int32
	sequence uint64
	database string
	chunk    uint32
	status   replproto.WorkerStatus
}

// newQueue orders outstanding work by descending priority, breaking
// ties by ascending sequence number (FIFO among equal priorities).
type newQueue []*item

func (q newQueue) Len() int { return len(q) }
func (q newQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].sequence < q[j].sequence
}
func (q newQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *newQueue) Push(x interface{}) {
	*q = append(*q, x.(*item))
}
func (q *newQueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
