// Package encoding is a small length-prefixed binary codec used by
// replproto's wire messages. The on-disk index formats do not use it;
// they frame their own records directly with encoding/binary. Unlike the
// teacher's general-purpose reflection-based marshaler, this package
// has no notion of encoding an arbitrary Go value: every wire type
// implements WireMarshaler/WireUnmarshaler itself, using the Encoder
// and Decoder primitives below as building blocks.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxObjectSize bounds how many bytes a single Decoder may read
	// while servicing one UnmarshalWire call. Limited to 12 MB.
	MaxObjectSize = 12e6

	// MaxSliceSize bounds how many bytes a length-prefixed slice may
	// claim to need. Limited to 5 MB.
	MaxSliceSize = 5e6
)

var errBadPointer = errors.New("cannot decode into invalid pointer")

// ErrObjectTooLarge is returned when a single decode exceeds MaxObjectSize.
type ErrObjectTooLarge uint64

// Error implements the error interface.
func (e ErrObjectTooLarge) Error() string {
	return fmt.Sprintf("encoded object (>= %v bytes) exceeds size limit (%v bytes)", uint64(e), uint64(MaxObjectSize))
}

// ErrSliceTooLarge is returned when a length prefix claims a slice
// larger than MaxSliceSize.
type ErrSliceTooLarge struct {
	Len      uint64
	ElemSize uint64
}

// Error implements the error interface.
func (e ErrSliceTooLarge) Error() string {
	return fmt.Sprintf("encoded slice (%v*%v bytes) exceeds size limit (%v bytes)", e.Len, e.ElemSize, uint64(MaxSliceSize))
}

type (
	// A WireMarshaler can encode and write itself to a stream.
	WireMarshaler interface {
		MarshalWire(io.Writer) error
	}

	// A WireUnmarshaler can read and decode itself from a stream.
	WireUnmarshaler interface {
		UnmarshalWire(io.Reader) error
	}
)

// An Encoder writes primitive values to an output stream. It is the
// building block every replproto MarshalWire method is written
// against. All of its methods become no-ops after the Encoder
// encounters a Write error.
type Encoder struct {
	w   io.Writer
	buf [8]byte
	err error
}

// Write implements the io.Writer interface.
func (e *Encoder) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	var n int
	n, e.err = e.w.Write(p)
	if n != len(p) && e.err == nil {
		e.err = io.ErrShortWrite
	}
	return n, e.err
}

// WriteByte implements the io.ByteWriter interface.
func (e *Encoder) WriteByte(b byte) error {
	if e.err != nil {
		return e.err
	}
	e.buf[0] = b
	e.Write(e.buf[:1])
	return e.err
}

// WriteBool writes b to the underlying io.Writer.
func (e *Encoder) WriteBool(b bool) error {
	if b {
		return e.WriteByte(1)
	}
	return e.WriteByte(0)
}

// WriteUint64 writes a uint64 value to the underlying io.Writer.
func (e *Encoder) WriteUint64(u uint64) error {
	if e.err != nil {
		return e.err
	}
	binary.LittleEndian.PutUint64(e.buf[:8], u)
	e.Write(e.buf[:8])
	return e.err
}

// WriteInt writes an int value to the underlying io.Writer.
func (e *Encoder) WriteInt(i int) error {
	return e.WriteUint64(uint64(i))
}

// WritePrefixedBytes writes p to the underlying io.Writer, prefixed by
// its length.
func (e *Encoder) WritePrefixedBytes(p []byte) error {
	e.WriteInt(len(p))
	e.Write(p)
	return e.err
}

// Err returns the first non-nil error encountered by e.
func (e *Encoder) Err() error {
	return e.err
}

// NewEncoder converts w to an Encoder.
func NewEncoder(w io.Writer) *Encoder {
	if e, ok := w.(*Encoder); ok {
		return e
	}
	return &Encoder{w: w}
}

// Marshal returns v's own encoding, as written by its MarshalWire
// method. v may be nil, in which case Marshal returns an empty slice.
func Marshal(v WireMarshaler) []byte {
	if v == nil {
		return nil
	}
	b := new(bytes.Buffer)
	if err := v.MarshalWire(b); err != nil {
		// Writes to a bytes.Buffer cannot fail, so this is only reached
		// if v's MarshalWire method reports an error of its own.
		panic(err)
	}
	return b.Bytes()
}

// A Decoder reads primitive values from an input stream. It is the
// building block every replproto UnmarshalWire method is written
// against. Its methods do not return errors, but instead set the value
// of d.Err(); once d.Err() is set, future operations become no-ops.
type Decoder struct {
	r   io.Reader
	buf [8]byte
	err error
	n   int // total number of bytes read
}

// Read implements the io.Reader interface.
func (d *Decoder) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	var n int
	n, d.err = d.r.Read(p)
	d.n += n
	if d.n > MaxObjectSize {
		d.err = ErrObjectTooLarge(d.n)
	}
	return n, d.err
}

// ReadFull is shorthand for io.ReadFull(d, p).
func (d *Decoder) ReadFull(p []byte) {
	if d.err != nil {
		return
	}
	n, err := io.ReadFull(d.r, p)
	if err != nil {
		d.err = err
	}
	d.n += n
	if d.n > MaxObjectSize {
		d.err = ErrObjectTooLarge(d.n)
	}
}

// ReadPrefixedBytes reads a length prefix, allocates a byte slice with
// that length, reads into the byte slice, and returns it. If the
// length prefix exceeds MaxSliceSize, ReadPrefixedBytes returns nil and
// sets d.Err().
func (d *Decoder) ReadPrefixedBytes() []byte {
	n := d.NextPrefix(1) // if too large, n == 0
	if d.err != nil {
		return nil
	}
	if buf, ok := d.r.(*bytes.Buffer); ok {
		b := buf.Next(int(n))
		d.n += len(b)
		if len(b) < int(n) && d.err == nil {
			d.err = io.ErrUnexpectedEOF
		}
		return b
	}

	b := make([]byte, n)
	d.ReadFull(b)
	if d.err != nil {
		return nil
	}
	return b
}

// NextUint64 reads the next 8 bytes and returns them as a uint64.
func (d *Decoder) NextUint64() uint64 {
	d.ReadFull(d.buf[:8])
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(d.buf[:8])
}

// NextBool reads the next byte and returns it as a bool.
func (d *Decoder) NextBool() bool {
	d.ReadFull(d.buf[:1])
	if d.buf[0] > 1 && d.err == nil {
		d.err = errors.New("boolean value was not 0 or 1")
	}
	return d.buf[0] == 1
}

// NextPrefix is like NextUint64, but performs sanity checks on the
// prefix. Specifically, if the prefix multiplied by elemSize exceeds
// MaxSliceSize, NextPrefix returns 0 and sets d.Err().
func (d *Decoder) NextPrefix(elemSize uintptr) uint64 {
	n := d.NextUint64()
	if n > 1<<31-1 || n*uint64(elemSize) > MaxSliceSize {
		d.err = ErrSliceTooLarge{Len: n, ElemSize: uint64(elemSize)}
		return 0
	}
	return n
}

// Err returns the first non-nil error encountered by d.
func (d *Decoder) Err() error {
	return d.err
}

// NewDecoder converts r to a Decoder.
func NewDecoder(r io.Reader) *Decoder {
	if d, ok := r.(*Decoder); ok {
		return d
	}
	return &Decoder{r: r}
}

// Unmarshal decodes b into v via v's own UnmarshalWire method. v must
// not be nil.
func Unmarshal(b []byte, v WireUnmarshaler) error {
	if v == nil {
		return errBadPointer
	}
	return v.UnmarshalWire(bytes.NewReader(b))
}
