package popmap

import (
	"encoding/binary"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/sphere"
)

// htmIndexEntrySize is the on-disk size, in bytes, of one HtmIndex
// triangle entry: u32 id, u64 numRecords, u64 recordSize.
const htmIndexEntrySize = 4 + 8 + 8

// Triangle is one HtmIndex entry: the record count and total byte size
// of an HTM triangle's records.
type Triangle struct {
	ID         uint32
	NumRecords uint64
	RecordSize uint64
}

// HtmIndex tracks, per HTM triangle at a fixed subdivision level, the
// number and byte size of the records it contains. Unlike PopulationMap
// it is not a fixed-size array of prefix sums: it is a sparse map over
// only the non-empty triangles. Index files are merged by passing them
// all to ReadHtmIndex, which folds each file's counts in with Update.
type HtmIndex struct {
	level      int
	numRecords uint64
	recordSize uint64
	byID       map[uint32]*Triangle
}

// NewHtmIndex creates an empty HtmIndex at the given HTM subdivision
// level.
func NewHtmIndex(level int) (*HtmIndex, error) {
	if level < 0 || level > sphere.MaxLevel {
		return nil, errors.Errorf("popmap: invalid HTM subdivision level %d", level)
	}
	return &HtmIndex{level: level, byID: make(map[uint32]*Triangle)}, nil
}

// Level returns the index's HTM subdivision level.
func (h *HtmIndex) Level() int { return h.level }

// NumRecords returns the total number of records tracked.
func (h *HtmIndex) NumRecords() uint64 { return h.numRecords }

// RecordSize returns the total byte size of all records tracked.
func (h *HtmIndex) RecordSize() uint64 { return h.recordSize }

// Size returns the number of non-empty triangles in the index.
func (h *HtmIndex) Size() int { return len(h.byID) }

// Get returns the Triangle for id, and false if id is not present.
func (h *HtmIndex) Get(id uint32) (Triangle, bool) {
	t, ok := h.byID[id]
	if !ok {
		return Triangle{}, false
	}
	return *t, true
}

// Update adds tri's counts to the index, creating a new entry if id was
// not previously present. It returns the triangle's updated totals.
func (h *HtmIndex) Update(tri Triangle) (Triangle, error) {
	if sphere.HtmLevel(tri.ID) != h.level {
		return Triangle{}, errors.New("popmap: HTM id is invalid or does not match the index subdivision level")
	}
	if tri.NumRecords == 0 || tri.RecordSize == 0 {
		return Triangle{}, errors.New("popmap: updating an HTM index with an empty triangle is not allowed")
	}
	t, ok := h.byID[tri.ID]
	if !ok {
		t = &Triangle{ID: tri.ID}
		h.byID[tri.ID] = t
	}
	t.NumRecords += tri.NumRecords
	t.RecordSize += tri.RecordSize
	h.numRecords += tri.NumRecords
	h.recordSize += tri.RecordSize
	return *t, nil
}

// Triangles returns the index's entries sorted by id.
func (h *HtmIndex) Triangles() []Triangle {
	out := make([]Triangle, 0, len(h.byID))
	for _, t := range h.byID {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WriteHtmIndex serializes h to path as [u8 level, {u32 id, u64
// numRecords, u64 recordSize}*] in little-endian byte order.
// Every file begins with its own level byte, so the byte-level
// concatenation of two such files is not a valid file and ReadHtmIndex
// rejects it; files are merged by passing each path to ReadHtmIndex.
func WriteHtmIndex(h *HtmIndex, path string) error {
	tris := h.Triangles()
	buf := make([]byte, 1+htmIndexEntrySize*len(tris))
	buf[0] = byte(h.level)
	off := 1
	for _, t := range tris {
		binary.LittleEndian.PutUint32(buf[off:], t.ID)
		binary.LittleEndian.PutUint64(buf[off+4:], t.NumRecords)
		binary.LittleEndian.PutUint64(buf[off+12:], t.RecordSize)
		off += htmIndexEntrySize
	}
	return errors.Wrap(os.WriteFile(path, buf, 0644), "popmap: write htm index")
}

// ReadHtmIndex reads and merges one or more HtmIndex files written by
// WriteHtmIndex. All files must share the same subdivision level.
func ReadHtmIndex(paths ...string) (*HtmIndex, error) {
	if len(paths) == 0 {
		return nil, errors.New("popmap: empty HTM index file list")
	}
	var idx *HtmIndex
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "popmap: read htm index file")
		}
		if len(raw) < 1 || (len(raw)-1)%htmIndexEntrySize != 0 {
			return nil, errors.New("popmap: invalid htm index file")
		}
		level := int(raw[0])
		if idx == nil {
			var err error
			idx, err = NewHtmIndex(level)
			if err != nil {
				return nil, errors.Wrap(err, "popmap: invalid htm index file")
			}
		} else if idx.level != level {
			return nil, errors.New("popmap: cannot merge htm index files with inconsistent subdivision levels")
		}
		numTriangles := (len(raw) - 1) / htmIndexEntrySize
		off := 1
		for i := 0; i < numTriangles; i++ {
			id := binary.LittleEndian.Uint32(raw[off:])
			nrec := binary.LittleEndian.Uint64(raw[off+4:])
			size := binary.LittleEndian.Uint64(raw[off+12:])
			if sphere.HtmLevel(id) != level {
				return nil, errors.New("popmap: HTM id in index file is invalid or does not match the index subdivision level")
			}
			if nrec == 0 || size == 0 {
				return nil, errors.New("popmap: htm index file contains an empty triangle")
			}
			if _, err := idx.Update(Triangle{ID: id, NumRecords: nrec, RecordSize: size}); err != nil {
				return nil, err
			}
			off += htmIndexEntrySize
		}
	}
	return idx, nil
}
