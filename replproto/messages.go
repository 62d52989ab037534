package replproto

import (
	"io"

	"github.com/xufuture/qserv-sub001/encoding"
)

// Header precedes every message body on the wire. SubType is only
// meaningful for Stop and Status requests, naming which request kind's
// TargetID they refer to.
type Header struct {
	Type    RequestType
	SubType RequestType
}

// MarshalWire writes h's two RequestType fields in order.
func (h Header) MarshalWire(w io.Writer) error {
	e := encoding.NewEncoder(w)
	h.Type.MarshalWire(e)
	h.SubType.MarshalWire(e)
	return e.Err()
}

// UnmarshalWire reads h's two RequestType fields in order.
func (h *Header) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	h.Type.UnmarshalWire(d)
	h.SubType.UnmarshalWire(d)
	return d.Err()
}

// ReplicateRequest asks a worker to create a replica of a chunk's data
// in the given database.
type ReplicateRequest struct {
	ID       RequestID
	Priority int32
	Database string
	Chunk    uint32
}

// MarshalWire writes r's fields in order.
func (r ReplicateRequest) MarshalWire(w io.Writer) error {
	return writeChunkRequest(w, r.ID, r.Priority, r.Database, r.Chunk)
}

// UnmarshalWire reads r's fields in order.
func (r *ReplicateRequest) UnmarshalWire(rd io.Reader) error {
	return readChunkRequest(rd, &r.ID, &r.Priority, &r.Database, &r.Chunk)
}

// DeleteRequest asks a worker to remove a replica of a chunk's data.
type DeleteRequest struct {
	ID       RequestID
	Priority int32
	Database string
	Chunk    uint32
}

// MarshalWire writes r's fields in order.
func (r DeleteRequest) MarshalWire(w io.Writer) error {
	return writeChunkRequest(w, r.ID, r.Priority, r.Database, r.Chunk)
}

// UnmarshalWire reads r's fields in order.
func (r *DeleteRequest) UnmarshalWire(rd io.Reader) error {
	return readChunkRequest(rd, &r.ID, &r.Priority, &r.Database, &r.Chunk)
}

// FindRequest asks a worker to report on the state of a single replica.
type FindRequest struct {
	ID       RequestID
	Priority int32
	Database string
	Chunk    uint32
}

// MarshalWire writes r's fields in order.
func (r FindRequest) MarshalWire(w io.Writer) error {
	return writeChunkRequest(w, r.ID, r.Priority, r.Database, r.Chunk)
}

// UnmarshalWire reads r's fields in order.
func (r *FindRequest) UnmarshalWire(rd io.Reader) error {
	return readChunkRequest(rd, &r.ID, &r.Priority, &r.Database, &r.Chunk)
}

// writeChunkRequest writes the {ID, Priority, Database, Chunk} shape
// shared by ReplicateRequest, DeleteRequest and FindRequest.
func writeChunkRequest(w io.Writer, id RequestID, priority int32, database string, chunk uint32) error {
	e := encoding.NewEncoder(w)
	id.MarshalWire(e)
	e.WriteInt(int(priority))
	e.WritePrefixedBytes([]byte(database))
	e.WriteUint64(uint64(chunk))
	return e.Err()
}

// readChunkRequest reads the {ID, Priority, Database, Chunk} shape
// shared by ReplicateRequest, DeleteRequest and FindRequest.
func readChunkRequest(r io.Reader, id *RequestID, priority *int32, database *string, chunk *uint32) error {
	d := encoding.NewDecoder(r)
	id.UnmarshalWire(d)
	*priority = int32(d.NextUint64())
	*database = string(d.ReadPrefixedBytes())
	*chunk = uint32(d.NextUint64())
	return d.Err()
}

// FindAllRequest asks a worker to report on every replica it holds for
// the given database.
type FindAllRequest struct {
	ID       RequestID
	Priority int32
	Database string
}

// MarshalWire writes r's fields in order.
func (r FindAllRequest) MarshalWire(w io.Writer) error {
	e := encoding.NewEncoder(w)
	r.ID.MarshalWire(e)
	e.WriteInt(int(r.Priority))
	e.WritePrefixedBytes([]byte(r.Database))
	return e.Err()
}

// UnmarshalWire reads r's fields in order.
func (r *FindAllRequest) UnmarshalWire(rd io.Reader) error {
	d := encoding.NewDecoder(rd)
	r.ID.UnmarshalWire(d)
	r.Priority = int32(d.NextUint64())
	r.Database = string(d.ReadPrefixedBytes())
	return d.Err()
}

// replicaInfoMinSize is a lower bound on one encoded ReplicaInfo (status
// byte + chunk uint64 + two empty-string prefixes), used to sanity-check
// a FindAllResponse's declared replica count before allocating.
const replicaInfoMinSize = 1 + 8 + 8 + 8

// ReplicaInfo describes one chunk replica as known to a worker.
type ReplicaInfo struct {
	Status   ReplicaStatus
	Worker   string
	Database string
	Chunk    uint32
}

// MarshalWire writes i's fields in order.
func (i ReplicaInfo) MarshalWire(w io.Writer) error {
	e := encoding.NewEncoder(w)
	i.Status.MarshalWire(e)
	e.WritePrefixedBytes([]byte(i.Worker))
	e.WritePrefixedBytes([]byte(i.Database))
	e.WriteUint64(uint64(i.Chunk))
	return e.Err()
}

// UnmarshalWire reads i's fields in order.
func (i *ReplicaInfo) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	i.Status.UnmarshalWire(d)
	i.Worker = string(d.ReadPrefixedBytes())
	i.Database = string(d.ReadPrefixedBytes())
	i.Chunk = uint32(d.NextUint64())
	return d.Err()
}

// FindAllResponse is only meaningful once the originating request has
// reached Finished(Success); Replicas is empty otherwise.
type FindAllResponse struct {
	Status   ExtState
	Replicas []ReplicaInfo
}

// MarshalWire writes f's fields in order, prefixing Replicas with its
// length.
func (f FindAllResponse) MarshalWire(w io.Writer) error {
	e := encoding.NewEncoder(w)
	f.Status.MarshalWire(e)
	e.WriteInt(len(f.Replicas))
	for _, ri := range f.Replicas {
		ri.MarshalWire(e)
	}
	return e.Err()
}

// UnmarshalWire reads f's fields in order.
func (f *FindAllResponse) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	f.Status.UnmarshalWire(d)
	n := d.NextPrefix(replicaInfoMinSize)
	if d.Err() != nil {
		return d.Err()
	}
	f.Replicas = make([]ReplicaInfo, n)
	for i := range f.Replicas {
		f.Replicas[i].UnmarshalWire(d)
	}
	return d.Err()
}

// StopRequest asks a worker to cancel the in-flight request named by
// TargetID, which must be of kind TargetType.
type StopRequest struct {
	TargetID   RequestID
	TargetType RequestType
}

// MarshalWire writes r's fields in order.
func (r StopRequest) MarshalWire(w io.Writer) error {
	e := encoding.NewEncoder(w)
	r.TargetID.MarshalWire(e)
	r.TargetType.MarshalWire(e)
	return e.Err()
}

// UnmarshalWire reads r's fields in order.
func (r *StopRequest) UnmarshalWire(rd io.Reader) error {
	d := encoding.NewDecoder(rd)
	r.TargetID.UnmarshalWire(d)
	r.TargetType.UnmarshalWire(d)
	return d.Err()
}

// StatusRequest asks a worker to report the current status of the
// request named by TargetID, without affecting it.
type StatusRequest struct {
	TargetID   RequestID
	TargetType RequestType
}

// MarshalWire writes r's fields in order.
func (r StatusRequest) MarshalWire(w io.Writer) error {
	e := encoding.NewEncoder(w)
	r.TargetID.MarshalWire(e)
	r.TargetType.MarshalWire(e)
	return e.Err()
}

// UnmarshalWire reads r's fields in order.
func (r *StatusRequest) UnmarshalWire(rd io.Reader) error {
	d := encoding.NewDecoder(rd)
	r.TargetID.UnmarshalWire(d)
	r.TargetType.UnmarshalWire(d)
	return d.Err()
}

// ServiceState is a worker's response to a ServiceSuspend, ServiceResume
// or ServiceStatus request.
type ServiceState struct {
	State         ServiceRunState
	NumNew        uint32
	NumInProgress uint32
	NumFinished   uint32
}

// MarshalWire writes s's fields in order.
func (s ServiceState) MarshalWire(w io.Writer) error {
	e := encoding.NewEncoder(w)
	s.State.MarshalWire(e)
	e.WriteUint64(uint64(s.NumNew))
	e.WriteUint64(uint64(s.NumInProgress))
	e.WriteUint64(uint64(s.NumFinished))
	return e.Err()
}

// UnmarshalWire reads s's fields in order.
func (s *ServiceState) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	s.State.UnmarshalWire(d)
	s.NumNew = uint32(d.NextUint64())
	s.NumInProgress = uint32(d.NextUint64())
	s.NumFinished = uint32(d.NextUint64())
	return d.Err()
}

// Ack is the immediate acknowledgment a worker sends on receipt of a
// Replicate, Delete or Find request, before the request actually
// completes.
type Ack struct {
	ID     RequestID
	Status WorkerStatus
}

// MarshalWire writes a's fields in order.
func (a Ack) MarshalWire(w io.Writer) error {
	e := encoding.NewEncoder(w)
	a.ID.MarshalWire(e)
	a.Status.MarshalWire(e)
	return e.Err()
}

// UnmarshalWire reads a's fields in order.
func (a *Ack) UnmarshalWire(r io.Reader) error {
	d := encoding.NewDecoder(r)
	a.ID.UnmarshalWire(d)
	a.Status.UnmarshalWire(d)
	return d.Err()
}
