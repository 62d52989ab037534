package recio

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PageSize is the system's memory page size, used to round mmap/madvise
// ranges to page boundaries.
var PageSize = os.Getpagesize()

// MappedFile is a read-only memory-mapped view of a file. It is used by
// the Merger's final pass over spilled scratch runs and by the
// duplicator's per-trixel prefetch of data.csv.
type MappedFile struct {
	path string
	data []byte
	size int64
}

// OpenMappedFile opens and memory-maps path for reading. The mapping is
// advised MADV_DONTNEED up front, matching the source's "map now, fault
// pages in on demand" policy; callers that know they are about to scan
// a sub-range should issue their own MADV_WILLNEED hint first via
// Advise.
func OpenMappedFile(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "recio: open mapped file")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "recio: stat mapped file")
	}
	size := fi.Size()
	mapSize := roundUp(size, int64(PageSize))
	if mapSize == 0 {
		return &MappedFile{path: path, data: nil, size: 0}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(mapSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "recio: mmap failed")
	}
	if err := unix.Madvise(data, unix.MADV_DONTNEED); err != nil {
		unix.Munmap(data)
		return nil, errors.Wrap(err, "recio: madvise failed")
	}
	return &MappedFile{path: path, data: data[:size], size: size}, nil
}

// Data returns the mapped byte slice.
func (m *MappedFile) Data() []byte { return m.data }

// Size returns the size of the mapped file.
func (m *MappedFile) Size() int64 { return m.size }

// Advise issues a madvise hint over the page-aligned range containing
// [off, off+length). advice is one of unix.MADV_WILLNEED/MADV_DONTNEED.
func (m *MappedFile) Advise(off, length int64, advice int) error {
	if len(m.data) == 0 {
		return nil
	}
	start := roundDown(off, int64(PageSize))
	end := roundUp(off+length, int64(PageSize))
	if end > int64(cap(m.data)) {
		end = int64(cap(m.data))
	}
	if start >= end {
		return nil
	}
	return unix.Madvise(m.data[start:end:end], advice)
}

// Close unmaps the file.
func (m *MappedFile) Close() error {
	if len(m.data) == 0 {
		return nil
	}
	full := m.data[:cap(m.data)]
	return unix.Munmap(full)
}

func roundUp(v, n int64) int64 {
	if v%n != 0 {
		v += n - v%n
	}
	return v
}

func roundDown(v, n int64) int64 {
	return v - v%n
}
