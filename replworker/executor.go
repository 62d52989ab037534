package replworker

import "github.com/xufuture/qserv-sub001/replproto"

// Executor performs the actual chunk-level work (copying or removing a
// replica) behind a replication request. Execute is called repeatedly
// by a processing thread with incremental=true, and must return
// done=true once the operation has fully completed; returning
// done=false lets a single long-running operation be driven forward in
// bounded increments so cancellation can be noticed between calls
// instead of only at the very start or end.
type Executor interface {
	Execute(kind replproto.RequestType, database string, chunk uint32, incremental bool) (done bool, err error)
}

// ExecutorFunc performs one request's worth of storage work to
// completion; it is not expected to support resuming partial progress.
type ExecutorFunc func(database string, chunk uint32, isDelete bool) error

type funcExecutor struct {
	replicate ExecutorFunc
	delete    ExecutorFunc
}

// NewFuncExecutor builds an Executor from plain replicate/delete
// callbacks, for workers whose backing storage operation always runs to
// completion in one call (the common case; only operations expected to
// run for a long time need true incremental Execute semantics).
func NewFuncExecutor(replicate, deleteFn ExecutorFunc) Executor {
	return &funcExecutor{replicate: replicate, delete: deleteFn}
}

func (e *funcExecutor) Execute(kind replproto.RequestType, database string, chunk uint32, incremental bool) (bool, error) {
	if kind == replproto.Delete {
		return true, e.delete(database, chunk, true)
	}
	return true, e.replicate(database, chunk, false)
}
