// Package replrequest implements the client side of the replication
// control plane's request lifecycle: a Request moves through
// Created -> InProgress -> Finished(ext state), resolving a worker
// connection, sending its typed payload, polling for completion, and
// retrying on transport errors, modeled on the lifecycle methods of the
// original Request base class (start/cancel/expired/restart/finish).
package replrequest

import (
	"net"
	"sync"
	"time"

	"github.com/NebulousLabs/fastrand"

	"github.com/xufuture/qserv-sub001/encoding"
	"github.com/xufuture/qserv-sub001/replproto"
)

// DefaultRetryTimeout is the delay before a transport failure is
// retried, absent an explicit Options.RetryTimeout.
const DefaultRetryTimeout = 2 * time.Second

// DefaultRequestTimeout bounds how long a Request may remain
// unfinished before it is expired, absent an explicit Options.Timeout.
const DefaultRequestTimeout = 5 * time.Minute

// Dialer opens a connection to the worker that should handle a request.
type Dialer func() (net.Conn, error)

// Options configures a Request's retry and expiration behavior.
type Options struct {
	// RetryTimeout is the base delay between a transport-error retry
	// and the following attempt; a small amount of jitter is added so
	// many requests retrying at once don't all reconnect in lockstep.
	RetryTimeout time.Duration
	// Timeout bounds how long a request may run, from creation, before
	// it is finished as ExtExpired.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryTimeout <= 0 {
		o.RetryTimeout = DefaultRetryTimeout
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultRequestTimeout
	}
	return o
}

// Request tracks one outstanding control-plane request from creation
// through to a terminal extended state. A Request is safe for
// concurrent use; Run drives it to completion and Cancel, State and
// ExtState may be called from another goroutine while Run is in progress.
type Request struct {
	id       replproto.RequestID
	typ      replproto.RequestType
	priority int32
	dial     Dialer
	opts     Options

	mu        sync.Mutex
	state     replproto.State
	extState  replproto.ExtState
	worker    string
	cancelled bool
	createdAt time.Time

	payload  encoding.WireMarshaler
	findAll  *replproto.FindAllResponse
	readResp func(conn net.Conn) error
}

// ID returns the request's identifier.
func (r *Request) ID() replproto.RequestID { return r.id }

// Type returns the request's kind.
func (r *Request) Type() replproto.RequestType { return r.typ }

// State returns the request's current primary lifecycle state.
func (r *Request) State() replproto.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ExtState returns the request's extended state, meaningful once State
// is Finished.
func (r *Request) ExtState() replproto.ExtState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extState
}

// Worker returns the administrative name of the worker this request
// targets, as given to its constructor.
func (r *Request) Worker() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.worker
}

// FindAllResponse returns the replica listing received for a FindAll
// request. It is only meaningful once State is Finished and ExtState is
// ExtSuccess; it returns nil otherwise.
func (r *Request) FindAllResponse() *replproto.FindAllResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != replproto.Finished || r.extState != replproto.ExtSuccess {
		return nil
	}
	return r.findAll
}

// Cancel marks the request cancelled. Cancellation is local only: per
// the control plane's design, no message is sent to the worker: the
// next time Run notices the request is cancelled, it finishes the
// request as ExtCancelled without further contacting the worker.
func (r *Request) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != replproto.Finished {
		r.cancelled = true
	}
}

func (r *Request) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *Request) isExpired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.createdAt) > r.opts.Timeout
}

func (r *Request) setInProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == replproto.Created {
		r.state = replproto.InProgress
	}
}

func (r *Request) finish(ext replproto.ExtState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == replproto.Finished {
		return
	}
	r.state = replproto.Finished
	r.extState = ext
}

// retryDelay returns the configured retry timeout plus up to 20% jitter,
// so a batch of simultaneously retrying requests don't reconnect in
// lockstep.
func (r *Request) retryDelay() time.Duration {
	base := r.opts.RetryTimeout
	jitter := time.Duration(fastrand.Intn(int(base/5) + 1))
	return base + jitter
}
