package replworker

import (
	"sync"
	"testing"
	"time"

	"github.com/xufuture/qserv-sub001/replproto"
)

// gatedExecutor lets a test hold a specific chunk's Execute call open
// until it chooses to release it, while any chunk with no gate
// registered completes immediately. This lets tests observe the
// InProgress state deterministically without racing the processor's
// own executor field.
type gatedExecutor struct {
	mu    sync.Mutex
	gates map[uint32]chan struct{}
	order []uint32
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{gates: make(map[uint32]chan struct{})}
}

func (e *gatedExecutor) gate(chunk uint32) chan struct{} {
	ch := make(chan struct{})
	e.mu.Lock()
	e.gates[chunk] = ch
	e.mu.Unlock()
	return ch
}

func (e *gatedExecutor) Execute(kind replproto.RequestType, database string, chunk uint32, incremental bool) (bool, error) {
	e.mu.Lock()
	ch := e.gates[chunk]
	e.mu.Unlock()
	if ch != nil {
		<-ch
	}
	e.mu.Lock()
	e.order = append(e.order, chunk)
	e.mu.Unlock()
	return true, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProcessorEnqueueAndRunToCompletion(t *testing.T) {
	exec := NewFuncExecutor(
		func(database string, chunk uint32, isDelete bool) error { return nil },
		func(database string, chunk uint32, isDelete bool) error { return nil },
	)
	p := NewProcessor(1, exec)
	defer p.Stop()

	id := replproto.NewRequestID()
	p.EnqueueForReplication(replproto.Replicate, id, 1, "db", 5)

	waitFor(t, 2*time.Second, func() bool { return p.CheckStatus(id) == replproto.WorkerStatusSucceeded })
}

func TestProcessorPriorityOrdering(t *testing.T) {
	exec := newGatedExecutor()
	// A single processing thread so the remaining two requests queue up
	// and compete on priority while the first is held open.
	p := NewProcessor(1, exec)
	defer p.Stop()

	gate := exec.gate(100)
	first := replproto.NewRequestID()
	p.EnqueueForReplication(replproto.Replicate, first, 0, "db", 100)
	waitFor(t, 2*time.Second, func() bool { return p.CheckStatus(first) == replproto.WorkerStatusInProgress })

	low := replproto.NewRequestID()
	high := replproto.NewRequestID()
	p.EnqueueForReplication(replproto.Replicate, low, 1, "db", 1)
	p.EnqueueForReplication(replproto.Replicate, high, 10, "db", 2)

	close(gate)

	waitFor(t, 2*time.Second, func() bool {
		return p.CheckStatus(low) == replproto.WorkerStatusSucceeded && p.CheckStatus(high) == replproto.WorkerStatusSucceeded
	})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.order) != 3 || exec.order[1] != 2 || exec.order[2] != 1 {
		t.Fatalf("execution order = %v, want [100 2 1] (higher priority first among queued)", exec.order)
	}
}

func TestProcessorDequeueFromNewQueue(t *testing.T) {
	exec := newGatedExecutor()
	gate := exec.gate(1)
	p := NewProcessor(1, exec)
	defer func() { close(gate); p.Stop() }()

	busy := replproto.NewRequestID()
	p.EnqueueForReplication(replproto.Replicate, busy, 0, "db", 1)
	waitFor(t, 2*time.Second, func() bool { return p.CheckStatus(busy) == replproto.WorkerStatusInProgress })

	queued := replproto.NewRequestID()
	p.EnqueueForReplication(replproto.Replicate, queued, 0, "db", 2)

	if status := p.DequeueOrCancel(queued); status != replproto.WorkerStatusCancelled {
		t.Fatalf("DequeueOrCancel(queued) = %v, want Cancelled", status)
	}
	if status := p.CheckStatus(queued); status != replproto.WorkerStatusCancelled {
		t.Fatalf("CheckStatus(queued) after cancel = %v, want Cancelled", status)
	}
}

// cancelAwareExecutor blocks its first call on a release channel, then
// reports progress is not yet done so the processor loop re-checks for
// cooperative cancellation before calling Execute again.
type cancelAwareExecutor struct {
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (e *cancelAwareExecutor) Execute(kind replproto.RequestType, database string, chunk uint32, incremental bool) (bool, error) {
	e.mu.Lock()
	e.calls++
	first := e.calls == 1
	e.mu.Unlock()
	if first {
		<-e.release
		return false, nil
	}
	return true, nil
}

func TestProcessorCooperativeCancelInProgress(t *testing.T) {
	exec := &cancelAwareExecutor{release: make(chan struct{})}
	p := NewProcessor(1, exec)
	defer p.Stop()

	id := replproto.NewRequestID()
	p.EnqueueForReplication(replproto.Replicate, id, 0, "db", 1)
	waitFor(t, 2*time.Second, func() bool { return p.CheckStatus(id) == replproto.WorkerStatusInProgress })

	if status := p.DequeueOrCancel(id); status != replproto.WorkerStatusIsCancelling {
		t.Fatalf("DequeueOrCancel(inProgress) = %v, want IsCancelling", status)
	}
	close(exec.release)

	waitFor(t, 2*time.Second, func() bool { return p.CheckStatus(id) == replproto.WorkerStatusCancelled })
}

func TestProcessorSuspendAndResume(t *testing.T) {
	exec := newGatedExecutor()
	gate := exec.gate(1)
	p := NewProcessor(1, exec)
	defer p.Stop()

	id := replproto.NewRequestID()
	p.EnqueueForReplication(replproto.Replicate, id, 0, "db", 1)
	waitFor(t, 2*time.Second, func() bool { return p.CheckStatus(id) == replproto.WorkerStatusInProgress })

	p.Suspend()
	if st := p.State(); st.State != replproto.SuspendInProgress {
		t.Fatalf("State() = %v, want SuspendInProgress while a thread is busy", st.State)
	}

	close(gate)

	waitFor(t, 2*time.Second, func() bool { return p.State().State == replproto.Suspended })

	second := replproto.NewRequestID()
	p.EnqueueForReplication(replproto.Replicate, second, 0, "db", 2)
	time.Sleep(20 * time.Millisecond)
	if status := p.CheckStatus(second); status != replproto.WorkerStatusQueued {
		t.Fatalf("queued request should stay Queued while suspended, got %v", status)
	}

	p.Resume()
	if st := p.State(); st.State != replproto.Running {
		t.Fatalf("State() = %v, want Running after Resume", st.State)
	}
	waitFor(t, 2*time.Second, func() bool { return p.CheckStatus(second) == replproto.WorkerStatusSucceeded })
}

func TestProcessorCheckStatusUnknown(t *testing.T) {
	exec := NewFuncExecutor(
		func(database string, chunk uint32, isDelete bool) error { return nil },
		func(database string, chunk uint32, isDelete bool) error { return nil },
	)
	p := NewProcessor(1, exec)
	defer p.Stop()

	if status := p.CheckStatus(replproto.NewRequestID()); status != replproto.WorkerStatusBad {
		t.Fatalf("CheckStatus(unknown) = %v, want Bad", status)
	}
	if status := p.DequeueOrCancel(replproto.NewRequestID()); status != replproto.WorkerStatusBad {
		t.Fatalf("DequeueOrCancel(unknown) = %v, want Bad", status)
	}
}
