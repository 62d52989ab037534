// Package replcontroller implements the client side of the replication
// control plane: a registry of outstanding requests driven by a single
// background event-loop goroutine, mirroring the gateway's
// single-struct-plus-background-loop shape (map + mutex + ThreadGroup)
// generalized so every state transition on the registry happens on one
// goroutine and user completion callbacks never race map mutation.
package replcontroller

import (
	"net"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/internal/plog"
	"github.com/xufuture/qserv-sub001/internal/threadgrp"
	"github.com/xufuture/qserv-sub001/replproto"
	"github.com/xufuture/qserv-sub001/replrequest"
)

// ErrStopped is returned by any Controller method that tries to create
// a new request after Stop has been called.
var ErrStopped = errors.New("replcontroller: controller is stopped")

// Dialer resolves a worker's administrative name (e.g. "worker-07") to
// an open connection. Workers are administratively configured, not
// discovered, so a Controller is handed one Dialer covering its whole
// fleet rather than a per-worker address.
type Dialer func(worker string) (net.Conn, error)

type requestEntry struct {
	req      *replrequest.Request
	worker   string
	onFinish func(*replrequest.Request)
}

// Controller tracks every outstanding Request, dispatching completion
// callbacks and answering registry queries from one event-loop
// goroutine so callers never need their own synchronization around a
// Request's lifecycle.
type Controller struct {
	dial func() Dialer
	opts replrequest.Options
	log  *plog.Logger

	cmds chan func()
	done chan struct{}
	// tg tracks every in-flight runRequest goroutine, not the event loop
	// itself: Stop calls tg.Stop before closing cmds, and the event loop
	// keeps running until then so those goroutines can post their
	// completion closures.
	tg threadgrp.ThreadGroup

	// requests is only ever touched from the event-loop goroutine.
	requests map[replproto.RequestID]*requestEntry
	stopped  bool
}

// New starts a Controller's event loop and returns it ready for use.
// dial is used to resolve a worker's administrative name to a
// connection for every request the Controller creates.
func New(dial Dialer, opts replrequest.Options, log *plog.Logger) *Controller {
	c := &Controller{
		dial:     func() Dialer { return dial },
		opts:     opts,
		log:      log,
		cmds:     make(chan func(), 64),
		done:     make(chan struct{}),
		requests: make(map[replproto.RequestID]*requestEntry),
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	for cmd := range c.cmds {
		cmd()
	}
	close(c.done)
}

// Stop cancels every outstanding request, rejects any further request
// creation, and waits for the event loop to drain.
func (c *Controller) Stop() {
	stopped := make(chan struct{})
	c.cmds <- func() {
		c.stopped = true
		for _, e := range c.requests {
			e.req.Cancel()
		}
		close(stopped)
	}
	<-stopped
	c.tg.Stop()
	close(c.cmds)
}

// Join blocks until the Controller's event loop has fully exited, which
// only happens after Stop has been called and every in-flight request
// has finished.
func (c *Controller) Join() {
	<-c.done
}

// submit registers req under worker and onFinish, then launches it, all
// from the event-loop goroutine; it returns ErrStopped instead if Stop
// has already been called.
func (c *Controller) submit(req *replrequest.Request, worker string, onFinish func(*replrequest.Request)) (err error) {
	// Once Stop has closed cmds, the send below panics.
	defer func() {
		if recover() != nil {
			err = ErrStopped
		}
	}()
	result := make(chan error, 1)
	c.cmds <- func() {
		if c.stopped {
			result <- ErrStopped
			return
		}
		if err := c.tg.Add(); err != nil {
			result <- ErrStopped
			return
		}
		c.requests[req.ID()] = &requestEntry{req: req, worker: worker, onFinish: onFinish}
		go c.runRequest(req)
		result <- nil
	}
	return <-result
}

func (c *Controller) runRequest(req *replrequest.Request) {
	defer c.tg.Done()
	if err := req.Run(); err != nil && c.log != nil {
		c.log.Printf("replcontroller: request %s failed: %v", req.ID(), err)
	}
	c.cmds <- func() {
		e, ok := c.requests[req.ID()]
		if !ok {
			return
		}
		if e.onFinish != nil {
			e.onFinish(req)
		}
		delete(c.requests, req.ID())
	}
}

func (c *Controller) dialerFor(worker string) replrequest.Dialer {
	d := c.dial()
	return func() (net.Conn, error) { return d(worker) }
}

// Replicate creates and launches a Replicate request against worker,
// invoking onFinish (which may be nil) once it reaches Finished.
func (c *Controller) Replicate(worker string, priority int32, database string, chunk uint32, onFinish func(*replrequest.Request)) (replproto.RequestID, error) {
	if database == "" {
		return "", errors.New("replcontroller: database must not be empty")
	}
	req := replrequest.NewReplicate(c.dialerFor(worker), worker, priority, database, chunk, c.opts)
	return req.ID(), c.submit(req, worker, onFinish)
}

// Delete creates and launches a Delete request against worker.
func (c *Controller) Delete(worker string, priority int32, database string, chunk uint32, onFinish func(*replrequest.Request)) (replproto.RequestID, error) {
	if database == "" {
		return "", errors.New("replcontroller: database must not be empty")
	}
	req := replrequest.NewDelete(c.dialerFor(worker), worker, priority, database, chunk, c.opts)
	return req.ID(), c.submit(req, worker, onFinish)
}

// Find creates and launches a Find request against worker.
func (c *Controller) Find(worker string, priority int32, database string, chunk uint32, onFinish func(*replrequest.Request)) (replproto.RequestID, error) {
	if database == "" {
		return "", errors.New("replcontroller: database must not be empty")
	}
	req := replrequest.NewFind(c.dialerFor(worker), worker, priority, database, chunk, c.opts)
	return req.ID(), c.submit(req, worker, onFinish)
}

// FindAll creates and launches a FindAll request against worker.
func (c *Controller) FindAll(worker string, priority int32, database string, onFinish func(*replrequest.Request)) (replproto.RequestID, error) {
	if database == "" {
		return "", errors.New("replcontroller: database must not be empty")
	}
	req := replrequest.NewFindAll(c.dialerFor(worker), worker, priority, database, c.opts)
	return req.ID(), c.submit(req, worker, onFinish)
}

// StopRequest creates and launches a Stop request against worker,
// asking it to cancel the in-progress request targetID/targetType.
func (c *Controller) StopRequest(worker string, targetID replproto.RequestID, targetType replproto.RequestType, onFinish func(*replrequest.Request)) (replproto.RequestID, error) {
	req := replrequest.NewStop(c.dialerFor(worker), worker, targetID, targetType, c.opts)
	return req.ID(), c.submit(req, worker, onFinish)
}

// StatusRequest creates and launches a Status request against worker,
// probing the status of targetID/targetType without affecting it.
func (c *Controller) StatusRequest(worker string, targetID replproto.RequestID, targetType replproto.RequestType, onFinish func(*replrequest.Request)) (replproto.RequestID, error) {
	req := replrequest.NewStatus(c.dialerFor(worker), worker, targetID, targetType, c.opts)
	return req.ID(), c.submit(req, worker, onFinish)
}

// Lookup returns the Request registered under id, if it is still
// outstanding (it is erased from the registry once finished and its
// completion callback has run).
func (c *Controller) Lookup(id replproto.RequestID) (*replrequest.Request, bool) {
	result := make(chan *replrequest.Request, 1)
	c.cmds <- func() {
		if e, ok := c.requests[id]; ok {
			result <- e.req
			return
		}
		result <- nil
	}
	req := <-result
	return req, req != nil
}

// Snapshot returns a point-in-time view of the request registered under
// id. Worker is sourced from the registry entry rather than calling
// e.req.Worker() directly, since both hold the same administratively
// targeted name and the registry is already on hand here.
func (c *Controller) Snapshot(id replproto.RequestID) (RequestSnapshot, bool) {
	result := make(chan *RequestSnapshot, 1)
	c.cmds <- func() {
		if e, ok := c.requests[id]; ok {
			s := snapshot(id, e)
			result <- &s
			return
		}
		result <- nil
	}
	s := <-result
	if s == nil {
		return RequestSnapshot{}, false
	}
	return *s, true
}

// RequestsByWorker returns the ids of every outstanding request
// targeting worker, in no particular order.
func (c *Controller) RequestsByWorker(worker string) []replproto.RequestID {
	result := make(chan []replproto.RequestID, 1)
	c.cmds <- func() {
		var ids []replproto.RequestID
		for id, e := range c.requests {
			if e.worker == worker {
				ids = append(ids, id)
			}
		}
		result <- ids
	}
	return <-result
}

// AllRequests returns the ids of every outstanding request.
func (c *Controller) AllRequests() []replproto.RequestID {
	result := make(chan []replproto.RequestID, 1)
	c.cmds <- func() {
		ids := make([]replproto.RequestID, 0, len(c.requests))
		for id := range c.requests {
			ids = append(ids, id)
		}
		result <- ids
	}
	return <-result
}

// RequestSnapshot is a read-only view of one outstanding request, taken
// under the registry's event-loop goroutine so its fields never tear.
type RequestSnapshot struct {
	ID       replproto.RequestID
	Type     replproto.RequestType
	Worker   string
	State    replproto.State
	ExtState replproto.ExtState
}

func snapshot(id replproto.RequestID, e *requestEntry) RequestSnapshot {
	return RequestSnapshot{
		ID:       id,
		Type:     e.req.Type(),
		Worker:   e.worker,
		State:    e.req.State(),
		ExtState: e.req.ExtState(),
	}
}

// activeRequestsOfType dynamic-dispatches to the typed view of every
// registry entry whose kind is one of the given types, exactly as
// spec.md's "filter queries ... iterate the registry under the mutex
// and dynamic-dispatch to the typed view" describes (here, the registry
// is confined to the event-loop goroutine rather than a mutex).
func (c *Controller) activeRequestsOfType(kinds ...replproto.RequestType) []RequestSnapshot {
	result := make(chan []RequestSnapshot, 1)
	c.cmds <- func() {
		var snaps []RequestSnapshot
		for id, e := range c.requests {
			for _, k := range kinds {
				if e.req.Type() == k {
					snaps = append(snaps, snapshot(id, e))
					break
				}
			}
		}
		result <- snaps
	}
	return <-result
}

// ActiveReplicationRequests returns a snapshot of every outstanding
// Replicate request.
func (c *Controller) ActiveReplicationRequests() []RequestSnapshot {
	return c.activeRequestsOfType(replproto.Replicate)
}

// ActiveDeleteRequests returns a snapshot of every outstanding Delete
// request.
func (c *Controller) ActiveDeleteRequests() []RequestSnapshot {
	return c.activeRequestsOfType(replproto.Delete)
}

// ActiveFindRequests returns a snapshot of every outstanding Find and
// FindAll request.
func (c *Controller) ActiveFindRequests() []RequestSnapshot {
	return c.activeRequestsOfType(replproto.Find, replproto.FindAll)
}

// ActiveRequests returns a snapshot of every outstanding request of any
// kind.
func (c *Controller) ActiveRequests() []RequestSnapshot {
	result := make(chan []RequestSnapshot, 1)
	c.cmds <- func() {
		snaps := make([]RequestSnapshot, 0, len(c.requests))
		for id, e := range c.requests {
			snaps = append(snaps, snapshot(id, e))
		}
		result <- snaps
	}
	return <-result
}
