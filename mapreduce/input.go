package mapreduce

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// InputReader supplies map phase workers with successive blocks of
// input bytes. Read must be safe for concurrent use by multiple
// goroutines; each call returns the next block, or ok=false once input
// is exhausted.
type InputReader interface {
	Read() (data []byte, ok bool, err error)
}

// FileInputReader sequentially reads line-aligned blocks of
// approximately blockSize bytes across a list of files. A single mutex
// serializes access, so any number of worker goroutines may share one
// FileInputReader.
type FileInputReader struct {
	mu        sync.Mutex
	paths     []string
	blockSize int
	nextPath  int
	file      *os.File
	rd        *bufio.Reader
}

// NewFileInputReader returns a reader over paths, handing out blocks of
// roughly blockSize bytes, extended as needed to end on a line
// boundary. blockSize must be positive.
func NewFileInputReader(paths []string, blockSize int) (*FileInputReader, error) {
	if blockSize <= 0 {
		return nil, errors.New("mapreduce: blockSize must be > 0")
	}
	if len(paths) == 0 {
		return nil, errors.New("mapreduce: no input files given")
	}
	return &FileInputReader{paths: paths, blockSize: blockSize}, nil
}

// Read returns the next line-aligned block of input, opening subsequent
// files in sequence as earlier ones are exhausted.
func (r *FileInputReader) Read() ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.rd == nil {
			if r.nextPath >= len(r.paths) {
				return nil, false, nil
			}
			f, err := os.Open(r.paths[r.nextPath])
			if err != nil {
				return nil, false, errors.Wrapf(err, "mapreduce: opening %s", r.paths[r.nextPath])
			}
			r.nextPath++
			r.file = f
			r.rd = bufio.NewReaderSize(f, r.blockSize)
		}

		buf := make([]byte, r.blockSize)
		n, err := io.ReadFull(r.rd, buf)
		buf = buf[:n]
		switch {
		case err == nil:
			// Filled the buffer exactly; extend to the next newline so
			// no line is split across two blocks.
			tail, rerr := r.rd.ReadBytes('\n')
			if rerr != nil && rerr != io.EOF {
				return nil, false, errors.Wrap(rerr, "mapreduce: reading input")
			}
			buf = append(buf, tail...)
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			r.file.Close()
			r.file = nil
			r.rd = nil
			if n == 0 {
				continue // this file was empty or exactly drained; try the next one
			}
		default:
			return nil, false, errors.Wrap(err, "mapreduce: reading input")
		}
		if len(buf) == 0 {
			continue
		}
		return buf, true, nil
	}
}
