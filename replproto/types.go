// Package replproto defines the wire types shared by the replication
// control plane's client and worker sides: request identifiers, the
// request/response payload structs, and the length-framed envelope they
// travel in. Each type implements encoding.WireMarshaler/WireUnmarshaler
// directly against the encoding.Encoder/Decoder primitives, rather than
// the teacher's general-purpose reflection-based marshaler: the wire
// vocabulary here is small and fixed, so a handful of explicit
// MarshalWire/UnmarshalWire methods are simpler than a generic encoder
// that must also cope with maps, interfaces and arbitrary nesting.
package replproto

import (
	"io"

	"github.com/google/uuid"

	"github.com/xufuture/qserv-sub001/encoding"
)

// RequestID is a request's unique identifier: a 128-bit UUID, carried in
// its canonical string form on the wire.
type RequestID string

// NewRequestID returns a freshly generated RequestID.
func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func (id RequestID) String() string { return string(id) }

// MarshalWire writes id as a length-prefixed string.
func (id RequestID) MarshalWire(w io.Writer) error {
	return encoding.NewEncoder(w).WritePrefixedBytes([]byte(id))
}

// UnmarshalWire reads a length-prefixed string into id.
func (id *RequestID) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	*id = RequestID(d.ReadPrefixedBytes())
	return d.Err()
}

// readByte reads a single byte via d, used by the small uint8-backed
// enums below.
func readByte(d *encoding.Decoder) byte {
	var buf [1]byte
	d.ReadFull(buf[:])
	return buf[0]
}

// RequestType enumerates every request and service-management kind the
// control plane exchanges.
type RequestType uint8

const (
	Replicate RequestType = iota
	Delete
	Find
	FindAll
	Stop
	Status
	ServiceSuspend
	ServiceResume
	ServiceStatus
)

func (t RequestType) String() string {
	switch t {
	case Replicate:
		return "REPLICATE"
	case Delete:
		return "DELETE"
	case Find:
		return "FIND"
	case FindAll:
		return "FIND_ALL"
	case Stop:
		return "STOP"
	case Status:
		return "STATUS"
	case ServiceSuspend:
		return "SERVICE_SUSPEND"
	case ServiceResume:
		return "SERVICE_RESUME"
	case ServiceStatus:
		return "SERVICE_STATUS"
	default:
		return "UNKNOWN"
	}
}

// MarshalWire writes t as a single byte.
func (t RequestType) MarshalWire(w io.Writer) error {
	return encoding.NewEncoder(w).WriteByte(byte(t))
}

// UnmarshalWire reads a single byte into t.
func (t *RequestType) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	*t = RequestType(readByte(d))
	return d.Err()
}

// State is a request's primary client-side lifecycle state.
type State uint8

const (
	Created State = iota
	InProgress
	Finished
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case InProgress:
		return "IN_PROGRESS"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// MarshalWire writes s as a single byte.
func (s State) MarshalWire(w io.Writer) error {
	return encoding.NewEncoder(w).WriteByte(byte(s))
}

// UnmarshalWire reads a single byte into s.
func (s *State) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	*s = State(readByte(d))
	return d.Err()
}

// ExtState refines State once a request reaches Finished, recording why.
type ExtState uint8

const (
	ExtNone ExtState = iota
	ExtSuccess
	ExtClientError
	ExtServerBad
	ExtServerError
	ExtServerQueued
	ExtServerInProgress
	ExtServerIsCancelling
	ExtServerCancelled
	ExtExpired
	ExtCancelled
)

func (s ExtState) String() string {
	switch s {
	case ExtNone:
		return "NONE"
	case ExtSuccess:
		return "SUCCESS"
	case ExtClientError:
		return "CLIENT_ERROR"
	case ExtServerBad:
		return "SERVER_BAD"
	case ExtServerError:
		return "SERVER_ERROR"
	case ExtServerQueued:
		return "SERVER_QUEUED"
	case ExtServerInProgress:
		return "SERVER_IN_PROGRESS"
	case ExtServerIsCancelling:
		return "SERVER_IS_CANCELLING"
	case ExtServerCancelled:
		return "SERVER_CANCELLED"
	case ExtExpired:
		return "EXPIRED"
	case ExtCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// MarshalWire writes s as a single byte.
func (s ExtState) MarshalWire(w io.Writer) error {
	return encoding.NewEncoder(w).WriteByte(byte(s))
}

// UnmarshalWire reads a single byte into s.
func (s *ExtState) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	*s = ExtState(readByte(d))
	return d.Err()
}

// WorkerStatus is the status a worker reports for a request it knows
// about, returned by an ack, a status probe or a stop/cancel request.
type WorkerStatus uint8

const (
	WorkerStatusNone WorkerStatus = iota
	WorkerStatusQueued
	WorkerStatusInProgress
	WorkerStatusIsCancelling
	WorkerStatusCancelled
	WorkerStatusSucceeded
	WorkerStatusFailed
	WorkerStatusBad
)

// ToExtState maps a worker-reported status onto the client-side
// ExtState vocabulary (spec: "Response status maps to ext_state
// (QUEUED -> SERVER_QUEUED, etc.)").
func (s WorkerStatus) ToExtState() ExtState {
	switch s {
	case WorkerStatusQueued:
		return ExtServerQueued
	case WorkerStatusInProgress:
		return ExtServerInProgress
	case WorkerStatusIsCancelling:
		return ExtServerIsCancelling
	case WorkerStatusCancelled:
		return ExtServerCancelled
	case WorkerStatusSucceeded:
		return ExtSuccess
	case WorkerStatusFailed:
		return ExtServerError
	case WorkerStatusBad:
		return ExtServerBad
	default:
		return ExtNone
	}
}

// IsTerminal reports whether a worker status will never change again
// without a new request (used to decide whether a status probe should
// keep repeating).
func (s WorkerStatus) IsTerminal() bool {
	switch s {
	case WorkerStatusSucceeded, WorkerStatusFailed, WorkerStatusBad, WorkerStatusCancelled:
		return true
	default:
		return false
	}
}

// MarshalWire writes s as a single byte.
func (s WorkerStatus) MarshalWire(w io.Writer) error {
	return encoding.NewEncoder(w).WriteByte(byte(s))
}

// UnmarshalWire reads a single byte into s.
func (s *WorkerStatus) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	*s = WorkerStatus(readByte(d))
	return d.Err()
}

// ReplicaStatus is the state of a chunk replica as reported by a worker
// in response to a Find/FindAll request.
type ReplicaStatus uint8

const (
	NotFound ReplicaStatus = iota
	Corrupt
	Incomplete
	Complete
)

func (s ReplicaStatus) String() string {
	switch s {
	case NotFound:
		return "NOT_FOUND"
	case Corrupt:
		return "CORRUPT"
	case Incomplete:
		return "INCOMPLETE"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// MarshalWire writes s as a single byte.
func (s ReplicaStatus) MarshalWire(w io.Writer) error {
	return encoding.NewEncoder(w).WriteByte(byte(s))
}

// UnmarshalWire reads a single byte into s.
func (s *ReplicaStatus) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	*s = ReplicaStatus(readByte(d))
	return d.Err()
}

// ServiceRunState is a worker process's own service-level state,
// independent of any single request.
type ServiceRunState uint8

const (
	Running ServiceRunState = iota
	SuspendInProgress
	Suspended
)

// MarshalWire writes s as a single byte.
func (s ServiceRunState) MarshalWire(w io.Writer) error {
	return encoding.NewEncoder(w).WriteByte(byte(s))
}

// UnmarshalWire reads a single byte into s.
func (s *ServiceRunState) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	*s = ServiceRunState(readByte(d))
	return d.Err()
}
