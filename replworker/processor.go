// Package replworker implements the worker side of the replication
// control plane: an accept loop and per-connection RPC dispatcher
// (Server) in front of a fixed thread pool that actually carries out
// replicate/delete requests (Processor), modeled on the gateway's
// TCPServer/peer connection handling generalized to this protocol and
// the worker's own 3-queue/thread-pool processing design.
package replworker

import (
	"container/heap"
	"sync"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/replproto"
)

// ErrUnknownRequest describes a request id the Processor has never seen.
// DequeueOrCancel and CheckStatus do not return it; for such an id they
// report replproto.WorkerStatusBad.
var ErrUnknownRequest = errors.New("replworker: unknown request id")

// Processor owns the three request queues (new, in-progress, finished)
// and a fixed pool of processing threads that drain the new queue in
// priority order, executing each request to completion via Executor
// before moving it to the finished queue.
type Processor struct {
	mu   sync.Mutex
	cond *sync.Cond

	executor   Executor
	numThreads int

	newQ       newQueue
	inProgress map[replproto.RequestID]*item
	cancelling map[replproto.RequestID]bool
	finished   map[replproto.RequestID]*item
	seq        uint64

	state   replproto.ServiceRunState
	busy    int
	stopped bool
	wg      sync.WaitGroup
}

// NewProcessor builds a Processor with numThreads processing threads
// and starts them; they begin in the Running state.
func NewProcessor(numThreads int, executor Executor) *Processor {
	if numThreads < 1 {
		numThreads = 1
	}
	p := &Processor{
		executor:   executor,
		numThreads: numThreads,
		inProgress: make(map[replproto.RequestID]*item),
		cancelling: make(map[replproto.RequestID]bool),
		finished:   make(map[replproto.RequestID]*item),
		state:      replproto.Running,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < numThreads; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p
}

// Stop halts every processing thread once its current request (if any)
// finishes, and blocks until they have all exited.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// EnqueueForReplication admits a new Replicate or Delete request, under
// the id the caller supplies, into the new queue.
func (p *Processor) EnqueueForReplication(kind replproto.RequestType, id replproto.RequestID, priority int32, database string, chunk uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	it := &item{
		id:       id,
		kind:     kind,
		priority: priority,
		sequence: p.seq,
		database: database,
		chunk:    chunk,
		status:   replproto.WorkerStatusQueued,
	}
	heap.Push(&p.newQ, it)
	p.cond.Broadcast()
}

// DequeueOrCancel implements the three-case cancellation logic: a
// request still in the new queue is cancelled outright and moved
// straight to finished; one already in progress is marked
// IS_CANCELLING for cooperative cancellation by the thread running it;
// one already finished simply reports its final status. An unknown id
// is reported as Bad.
func (p *Processor) DequeueOrCancel(id replproto.RequestID) replproto.WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, it := range p.newQ {
		if it.id == id {
			it.status = replproto.WorkerStatusCancelled
			p.finished[id] = it
			p.newQ = append(p.newQ[:i], p.newQ[i+1:]...)
			heap.Init(&p.newQ)
			return replproto.WorkerStatusCancelled
		}
	}
	if it, ok := p.inProgress[id]; ok {
		p.cancelling[id] = true
		it.status = replproto.WorkerStatusIsCancelling
		return replproto.WorkerStatusIsCancelling
	}
	if it, ok := p.finished[id]; ok {
		return it.status
	}
	return replproto.WorkerStatusBad
}

// CheckStatus reports a request's current status without affecting it.
func (p *Processor) CheckStatus(id replproto.RequestID) replproto.WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, it := range p.newQ {
		if it.id == id {
			return it.status
		}
	}
	if it, ok := p.inProgress[id]; ok {
		return it.status
	}
	if it, ok := p.finished[id]; ok {
		return it.status
	}
	return replproto.WorkerStatusBad
}

// Suspend stops the processor from pulling new work once any
// currently-executing requests finish, reporting SuspendInProgress
// until the last active thread goes idle, at which point the state
// becomes Suspended.
func (p *Processor) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == replproto.Running {
		p.state = replproto.SuspendInProgress
		if p.busy == 0 {
			p.state = replproto.Suspended
		}
		p.cond.Broadcast()
	}
}

// Resume returns the processor to Running, allowing idle threads to
// resume pulling new work.
func (p *Processor) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = replproto.Running
	p.cond.Broadcast()
}

// State reports the processor's current queue depths and run state.
func (p *Processor) State() replproto.ServiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return replproto.ServiceState{
		State:         p.state,
		NumNew:        uint32(len(p.newQ)),
		NumInProgress: uint32(len(p.inProgress)),
		NumFinished:   uint32(len(p.finished)),
	}
}

func (p *Processor) workerLoop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for !p.stopped && (p.state != replproto.Running || len(p.newQ) == 0) {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		it := heap.Pop(&p.newQ).(*item)
		it.status = replproto.WorkerStatusInProgress
		p.inProgress[it.id] = it
		p.busy++
		p.mu.Unlock()

		p.execute(it)

		p.mu.Lock()
		p.busy--
		if p.state == replproto.SuspendInProgress && p.busy == 0 {
			p.state = replproto.Suspended
		}
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// execute drives it to completion through repeated incremental Execute
// calls, checking for cooperative cancellation between each one.
func (p *Processor) execute(it *item) {
	for {
		p.mu.Lock()
		cancelling := p.cancelling[it.id]
		p.mu.Unlock()
		if cancelling {
			p.finish(it, replproto.WorkerStatusCancelled)
			return
		}

		done, err := p.executor.Execute(it.kind, it.database, it.chunk, true)
		if err != nil {
			p.finish(it, replproto.WorkerStatusFailed)
			return
		}
		if done {
			p.finish(it, replproto.WorkerStatusSucceeded)
			return
		}
	}
}

func (p *Processor) finish(it *item, status replproto.WorkerStatus) {
	p.mu.Lock()
	it.status = status
	delete(p.inProgress, it.id)
	delete(p.cancelling, it.id)
	p.finished[it.id] = it
	p.mu.Unlock()
}
