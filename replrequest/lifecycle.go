package replrequest

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/replproto"
)

// newRequest builds the common state shared by every constructor below.
// worker is the administrative name the request targets, known at
// construction time (the caller resolved it to pick dial); it is never
// learned from the wire, since no ack carries a worker's identity.
func newRequest(typ replproto.RequestType, priority int32, dial Dialer, worker string, opts Options, payload interface{}) *Request {
	return &Request{
		id:        replproto.NewRequestID(),
		typ:       typ,
		priority:  priority,
		dial:      dial,
		worker:    worker,
		opts:      opts.withDefaults(),
		state:     replproto.Created,
		extState:  replproto.ExtNone,
		createdAt: time.Now(),
		payload:   payload,
	}
}

// NewReplicate creates a Replicate request for the given chunk, to be
// sent to worker.
func NewReplicate(dial Dialer, worker string, priority int32, database string, chunk uint32, opts Options) *Request {
	r := newRequest(replproto.Replicate, priority, dial, worker, opts, nil)
	r.payload = replproto.ReplicateRequest{ID: r.id, Priority: priority, Database: database, Chunk: chunk}
	return r
}

// NewDelete creates a Delete request for the given chunk, to be sent to
// worker.
func NewDelete(dial Dialer, worker string, priority int32, database string, chunk uint32, opts Options) *Request {
	r := newRequest(replproto.Delete, priority, dial, worker, opts, nil)
	r.payload = replproto.DeleteRequest{ID: r.id, Priority: priority, Database: database, Chunk: chunk}
	return r
}

// NewFind creates a Find request for the given chunk, to be sent to
// worker.
func NewFind(dial Dialer, worker string, priority int32, database string, chunk uint32, opts Options) *Request {
	r := newRequest(replproto.Find, priority, dial, worker, opts, nil)
	r.payload = replproto.FindRequest{ID: r.id, Priority: priority, Database: database, Chunk: chunk}
	return r
}

// NewFindAll creates a FindAll request enumerating every replica held
// for database on worker.
func NewFindAll(dial Dialer, worker string, priority int32, database string, opts Options) *Request {
	r := newRequest(replproto.FindAll, priority, dial, worker, opts, nil)
	r.payload = replproto.FindAllRequest{ID: r.id, Priority: priority, Database: database}
	return r
}

// NewStop creates a request asking worker to cancel the in-progress
// request identified by targetID/targetType.
func NewStop(dial Dialer, worker string, targetID replproto.RequestID, targetType replproto.RequestType, opts Options) *Request {
	r := newRequest(replproto.Stop, 0, dial, worker, opts, nil)
	r.payload = replproto.StopRequest{TargetID: targetID, TargetType: targetType}
	return r
}

// NewStatus creates a request asking worker to report the status of
// the request identified by targetID/targetType, without affecting it.
func NewStatus(dial Dialer, worker string, targetID replproto.RequestID, targetType replproto.RequestType, opts Options) *Request {
	r := newRequest(replproto.Status, 0, dial, worker, opts, nil)
	r.payload = replproto.StatusRequest{TargetID: targetID, TargetType: targetType}
	return r
}

// Run drives the request through its lifecycle to completion: resolve a
// connection, send the typed payload, read the worker's immediate ack,
// and — for requests that run asynchronously on the worker side — poll
// with STATUS probes until the worker reports a terminal status.
// Transport errors reset the attempt and retry after a jittered delay;
// logical (server-reported) terminal states end the request immediately.
// Run returns once the request reaches Finished; it never returns an
// error for a request that finished in a non-success ExtState, since
// that is itself a valid terminal outcome callers inspect via ExtState.
func (r *Request) Run() error {
	for {
		if r.isCancelled() {
			r.finish(replproto.ExtCancelled)
			return nil
		}
		if r.isExpired() {
			r.finish(replproto.ExtExpired)
			return nil
		}

		conn, err := r.dial()
		if err != nil {
			time.Sleep(r.retryDelay())
			continue
		}

		ext, done, err := r.attempt(conn)
		conn.Close()
		if err != nil {
			// Transport error mid-attempt: per the retry policy this
			// resets to Created and tries again after a delay.
			r.mu.Lock()
			r.state = replproto.Created
			r.mu.Unlock()
			time.Sleep(r.retryDelay())
			continue
		}
		if done {
			r.finish(ext)
			return nil
		}
		// Acknowledged but not yet terminal: poll status until it is.
		if err := r.pollUntilTerminal(); err != nil {
			time.Sleep(r.retryDelay())
			continue
		}
		return nil
	}
}

// attempt sends the request's payload over conn and reads the worker's
// immediate acknowledgment. done reports whether that ack already
// carries a terminal extended state (true for most Stop/Status/Service
// replies; false for a freshly queued Replicate/Delete/Find/FindAll
// that the worker will keep working on).
func (r *Request) attempt(conn net.Conn) (ext replproto.ExtState, done bool, err error) {
	header := replproto.Header{Type: r.typ}
	if err := replproto.WriteMessage(conn, header, r.payload); err != nil {
		return 0, false, errors.Wrap(err, "replrequest: sending request")
	}

	var ack replproto.Ack
	if _, err := replproto.ReadMessage(conn, &ack); err != nil {
		return 0, false, errors.Wrap(err, "replrequest: reading ack")
	}
	r.setInProgress()

	switch r.typ {
	case replproto.FindAll:
		if ack.Status.ToExtState() == replproto.ExtSuccess {
			var resp replproto.FindAllResponse
			if _, err := replproto.ReadMessage(conn, &resp); err != nil {
				return 0, false, errors.Wrap(err, "replrequest: reading find-all response")
			}
			r.mu.Lock()
			r.findAll = &resp
			r.mu.Unlock()
		}
	}

	return ack.Status.ToExtState(), ack.Status.IsTerminal(), nil
}

// pollUntilTerminal repeatedly sends a STATUS probe for this request
// until the worker reports a terminal status, sleeping between probes.
func (r *Request) pollUntilTerminal() error {
	for {
		if r.isCancelled() {
			r.finish(replproto.ExtCancelled)
			return nil
		}
		if r.isExpired() {
			r.finish(replproto.ExtExpired)
			return nil
		}
		time.Sleep(r.retryDelay())

		conn, err := r.dial()
		if err != nil {
			return errors.Wrap(err, "replrequest: dialing for status probe")
		}
		header := replproto.Header{Type: replproto.Status, SubType: r.typ}
		probe := replproto.StatusRequest{TargetID: r.id, TargetType: r.typ}
		if err := replproto.WriteMessage(conn, header, probe); err != nil {
			conn.Close()
			return errors.Wrap(err, "replrequest: sending status probe")
		}
		var ack replproto.Ack
		_, err = replproto.ReadMessage(conn, &ack)
		conn.Close()
		if err != nil {
			return errors.Wrap(err, "replrequest: reading status probe response")
		}
		if ack.Status.IsTerminal() {
			r.finish(ack.Status.ToExtState())
			return nil
		}
	}
}
