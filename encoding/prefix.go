package encoding

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single control-plane frame body. Frames larger than
// this are a protocol error (truncated/garbled length prefix), not a
// legitimately large request.
const MaxFrameSize = 16 << 20 // 16 MiB

// WriteFrame writes body prefixed by a 4-byte big-endian length, per the
// control-plane wire format (spec: "[u32 big-endian length][body]").
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame body of %d bytes exceeds MaxFrameSize of %d", len(body), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads a 4-byte big-endian length prefix followed by that many
// bytes. It returns an error if the declared length exceeds MaxFrameSize.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds MaxFrameSize of %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
