package replworker

import (
	"io"
	"net"
	"time"

	"github.com/xufuture/qserv-sub001/encoding"
	"github.com/xufuture/qserv-sub001/internal/plog"
	"github.com/xufuture/qserv-sub001/internal/threadgrp"
	"github.com/xufuture/qserv-sub001/replproto"
)

// connTimeout bounds how long a connection may sit idle between
// requests before the server closes it; the handler extends the
// deadline each time it reads a request, mirroring the teacher's own
// TCPServer.listen default-deadline pattern.
const connTimeout = 30 * time.Second

// Server accepts connections on one TCP port and serves the worker RPC
// loop on each: read a request, dispatch it to the Processor, write
// back a response, and read the next request on the same connection
// until the peer disconnects.
type Server struct {
	listener  net.Listener
	processor *Processor
	log       *plog.Logger
	connSem   chan struct{}
	tg        threadgrp.ThreadGroup
}

// NewServer starts listening on addr. maxConns bounds how many
// connections may be served concurrently (workerNumConnectionsLimit);
// 0 means unbounded.
func NewServer(addr string, processor *Processor, maxConns int, log *plog.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener:  l,
		processor: processor,
		log:       log,
	}
	if maxConns > 0 {
		s.connSem = make(chan struct{}, maxConns)
	}
	return s, nil
}

// Addr returns the server's bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the accept loop until Close is called. It returns once the
// listener has been closed.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			case <-s.tg.StopChan():
				conn.Close()
				return
			}
		}
		conn.SetDeadline(time.Now().Add(connTimeout))
		if err := s.tg.Add(); err != nil {
			conn.Close()
			if s.connSem != nil {
				<-s.connSem
			}
			return
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and waits for every connection
// handler to return. A handler returns only when its peer disconnects,
// a read or write fails, or the connection sits idle past connTimeout;
// Close does not interrupt a connection waiting for its next request.
func (s *Server) Close() error {
	s.tg.OnStop(func() { s.listener.Close() })
	return s.tg.Stop()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.tg.Done()
	defer conn.Close()
	if s.connSem != nil {
		defer func() { <-s.connSem }()
	}

	for {
		env, err := replproto.ReadEnvelope(conn)
		if err != nil {
			if err != io.EOF && s.log != nil {
				s.log.Printf("replworker: connection closed: %v", err)
			}
			return
		}
		conn.SetDeadline(time.Now().Add(connTimeout))

		resp, err := s.dispatch(env)
		if err != nil {
			if s.log != nil {
				s.log.Printf("replworker: dispatch error: %v", err)
			}
			return
		}
		if err := replproto.WriteMessage(conn, replproto.Header{Type: env.Header.Type}, resp); err != nil {
			return
		}
	}
}

// dispatch decodes env's payload according to its Header.Type, invokes
// the appropriate Processor method, and returns the typed response
// payload to send back.
func (s *Server) dispatch(env replproto.Envelope) (encoding.WireMarshaler, error) {
	switch env.Header.Type {
	case replproto.Replicate:
		var req replproto.ReplicateRequest
		if err := replproto.DecodePayload(env, &req); err != nil {
			return nil, err
		}
		s.processor.EnqueueForReplication(replproto.Replicate, req.ID, req.Priority, req.Database, req.Chunk)
		return replproto.Ack{ID: req.ID, Status: replproto.WorkerStatusQueued}, nil

	case replproto.Delete:
		var req replproto.DeleteRequest
		if err := replproto.DecodePayload(env, &req); err != nil {
			return nil, err
		}
		s.processor.EnqueueForReplication(replproto.Delete, req.ID, req.Priority, req.Database, req.Chunk)
		return replproto.Ack{ID: req.ID, Status: replproto.WorkerStatusQueued}, nil

	case replproto.Status:
		var req replproto.StatusRequest
		if err := replproto.DecodePayload(env, &req); err != nil {
			return nil, err
		}
		status := s.processor.CheckStatus(req.TargetID)
		return replproto.Ack{ID: req.TargetID, Status: status}, nil

	case replproto.Stop:
		var req replproto.StopRequest
		if err := replproto.DecodePayload(env, &req); err != nil {
			return nil, err
		}
		status := s.processor.DequeueOrCancel(req.TargetID)
		return replproto.Ack{ID: req.TargetID, Status: status}, nil

	case replproto.ServiceSuspend:
		s.processor.Suspend()
		return s.processor.State(), nil

	case replproto.ServiceResume:
		s.processor.Resume()
		return s.processor.State(), nil

	case replproto.ServiceStatus:
		return s.processor.State(), nil

	default:
		return replproto.Ack{Status: replproto.WorkerStatusBad}, nil
	}
}
