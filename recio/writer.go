package recio

import (
	"os"

	"github.com/pkg/errors"
)

// BlockWriter is an asynchronous, double-buffered append-only writer.
// Data is copied into an active buffer by the caller; once the buffer
// fills, it is handed off to a dedicated writer goroutine over a
// pending channel of capacity 1, and written buffers come back over a
// free channel of capacity 1 (two buffers in all: one in flight to
// disk, one being filled) while the caller continues writing into a
// freshly acquired buffer. This gives the same producer/consumer overlap as a hand
// rolled double buffer guarded by a mutex and condition variable,
// without the explicit wait/notify bookkeeping.
//
// A BlockWriter must be used by a single goroutine at a time.
type BlockWriter struct {
	file      *os.File
	path      string
	blockSize int

	active []byte
	used   int
	off    int64

	free    chan []byte
	pending chan []byte
	done    chan error

	closed bool
}

// NewBlockWriter creates path (truncating it if it exists) and starts
// its writer goroutine. blockSize is the size of each of the two
// buffers; it must be > 0.
func NewBlockWriter(path string, blockSize int) (*BlockWriter, error) {
	if blockSize <= 0 {
		return nil, errors.New("recio: zero is not a legal block size")
	}
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "recio: create output file")
	}
	bw := &BlockWriter{
		file:      f,
		path:      path,
		blockSize: blockSize,
		active:    make([]byte, blockSize),
		free:      make(chan []byte, 1),
		pending:   make(chan []byte, 1),
		done:      make(chan error, 1),
	}
	bw.free <- make([]byte, blockSize)
	go bw.run()
	return bw, nil
}

// Path returns the underlying file's path.
func (bw *BlockWriter) Path() string { return bw.path }

// Tell returns the total number of bytes appended so far.
func (bw *BlockWriter) Tell() int64 { return bw.off }

func (bw *BlockWriter) run() {
	var writeErr error
	for buf := range bw.pending {
		if writeErr == nil {
			if _, err := bw.file.Write(buf); err != nil {
				writeErr = errors.Wrap(err, "recio: block write failed")
			}
		}
		bw.free <- buf[:0]
	}
	bw.done <- writeErr
}

// Append copies data into the active buffer, issuing the
// buffer to the writer goroutine and swapping in a fresh one whenever it
// fills. Append may split a single call across more than one issued
// buffer if data is larger than blockSize.
func (bw *BlockWriter) Append(data []byte) error {
	if bw.closed {
		return errors.New("recio: block writer has already been closed")
	}
	bw.off += int64(len(data))
	for len(data) > 0 {
		room := bw.blockSize - bw.used
		n := len(data)
		if n > room {
			n = room
		}
		copy(bw.active[bw.used:], data[:n])
		bw.used += n
		data = data[n:]
		if bw.used == bw.blockSize {
			if err := bw.issue(); err != nil {
				return err
			}
		}
	}
	return nil
}

// issue hands the active buffer to the writer goroutine, blocking until
// a free buffer is available to replace it.
func (bw *BlockWriter) issue() error {
	full := bw.active[:bw.used]
	bw.pending <- full
	bw.active = <-bw.free
	if cap(bw.active) < bw.blockSize {
		bw.active = make([]byte, bw.blockSize)
	}
	bw.active = bw.active[:bw.blockSize]
	bw.used = 0
	return nil
}

// Close flushes any buffered bytes, waits for the writer goroutine to
// drain, and closes the underlying file. Any further call to Append is
// an error.
func (bw *BlockWriter) Close() error {
	if bw.closed {
		return nil
	}
	bw.closed = true
	if bw.used > 0 {
		bw.pending <- bw.active[:bw.used]
		bw.used = 0
	}
	close(bw.pending)
	writeErr := <-bw.done
	if err := bw.file.Close(); err != nil && writeErr == nil {
		writeErr = errors.Wrap(err, "recio: close output file")
	}
	return writeErr
}
