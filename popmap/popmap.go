// Package popmap implements the per-trixel record-count/byte-size
// summary built while an input data set is HTM-sorted, and the chunk
// index built while it is partitioned into chunks.
package popmap

import (
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/sphere"
)

// MaxTrianglesLevel is the highest HTM subdivision level a
// PopulationMap may be built at, matching sphere.MaxLevel.
const MaxTrianglesLevel = sphere.MaxLevel

// PopulationMap tracks, for every HTM triangle at a fixed subdivision
// level, the number of records and total byte size of the input lines
// assigned to it. It has two lifecycle phases:
//
//   - building: Add may be called concurrently by any number of
//     goroutines, accumulating raw per-id totals.
//   - queryable: after MakeQueryable, the map is immutable, the raw
//     totals have been converted to prefix sums, and the non-empty-id
//     surjection is available.
//
// The zero value is not usable; construct with New or Read.
type PopulationMap struct {
	level      int
	numTrixels uint32

	// countPrefix and offsetPrefix have length numTrixels+1. During
	// building, countPrefix[h+1]/offsetPrefix[h+1] hold id h's raw
	// totals; MakeQueryable turns them into prefix sums.
	countPrefix  []uint64
	offsetPrefix []uint64

	queryable bool
	nonEmpty  []uint32 // sorted, populated by MakeQueryable
}

// New creates an empty, in-construction PopulationMap for the given HTM
// subdivision level.
func New(level int) (*PopulationMap, error) {
	if level < 0 || level > MaxTrianglesLevel {
		return nil, errors.Errorf("popmap: invalid HTM subdivision level %d", level)
	}
	numTrixels := uint32(8) << uint(2*level)
	return &PopulationMap{
		level:        level,
		numTrixels:   numTrixels,
		countPrefix:  make([]uint64, numTrixels+1),
		offsetPrefix: make([]uint64, numTrixels+1),
	}, nil
}

// Level returns the map's HTM subdivision level.
func (m *PopulationMap) Level() int { return m.level }

// NumTrixels returns the total number of triangles at the map's level.
func (m *PopulationMap) NumTrixels() uint32 { return m.numTrixels }

// firstID is the smallest valid HTM id at the map's level: exactly
// sphere.HtmLevel's inverse, numTrixels itself (8 root triangles times
// 4^level children each, numbered starting at numTrixels).
func (m *PopulationMap) firstID() uint32 { return m.numTrixels }

// Add atomically adds n records totaling size bytes to triangle id's
// raw totals. Safe for concurrent use by multiple goroutines while the
// map is in the building phase; calling Add after MakeQueryable panics,
// since the slots it touches have already been overwritten with prefix
// sums.
func (m *PopulationMap) Add(id uint32, n, size uint64) {
	if m.queryable {
		panic("popmap: Add called after MakeQueryable")
	}
	slot := id - m.firstID() + 1
	atomic.AddUint64(&m.countPrefix[slot], n)
	atomic.AddUint64(&m.offsetPrefix[slot], size)
}

// MakeQueryable freezes the map: it verifies that no triangle exceeds
// 2^32-1 records or bytes, builds the sorted list of non-empty ids, and
// converts the raw per-id totals into prefix sums. It is idempotent.
func (m *PopulationMap) MakeQueryable() error {
	if m.queryable {
		return nil
	}
	var nonEmpty []uint32
	for i := uint32(1); i <= m.numTrixels; i++ {
		if m.countPrefix[i] > 0xFFFFFFFF {
			return errors.New("popmap: trixel contains more than 2^32-1 records; increase the HTM subdivision level")
		}
		if m.offsetPrefix[i] > 0xFFFFFFFF {
			return errors.New("popmap: trixel data is larger than 2^32-1 bytes; increase the HTM subdivision level")
		}
		if m.countPrefix[i] != 0 {
			nonEmpty = append(nonEmpty, i-1+m.firstID())
		}
	}
	for i := uint32(1); i <= m.numTrixels; i++ {
		m.countPrefix[i] += m.countPrefix[i-1]
		m.offsetPrefix[i] += m.offsetPrefix[i-1]
	}
	m.nonEmpty = nonEmpty
	m.queryable = true
	return nil
}

// requireQueryable panics with a descriptive message if the map has not
// yet been frozen; every read accessor below is meaningless before
// MakeQueryable runs.
func (m *PopulationMap) requireQueryable() {
	if !m.queryable {
		panic("popmap: PopulationMap accessed before MakeQueryable")
	}
}

// TotalNumRecords returns the total number of records tracked.
func (m *PopulationMap) TotalNumRecords() uint64 {
	m.requireQueryable()
	return m.countPrefix[m.numTrixels]
}

// TotalSize returns the total byte size of all records tracked.
func (m *PopulationMap) TotalSize() uint64 {
	m.requireQueryable()
	return m.offsetPrefix[m.numTrixels]
}

// NumRecords returns the number of records assigned to triangle id.
func (m *PopulationMap) NumRecords(id uint32) uint32 {
	m.requireQueryable()
	slot := id - m.firstID()
	return uint32(m.countPrefix[slot+1] - m.countPrefix[slot])
}

// NumRecordsBelow returns the number of records with HTM id < id.
func (m *PopulationMap) NumRecordsBelow(id uint32) uint64 {
	m.requireQueryable()
	return m.countPrefix[id-m.firstID()]
}

// Size returns the byte size of the records assigned to triangle id.
func (m *PopulationMap) Size(id uint32) uint32 {
	m.requireQueryable()
	slot := id - m.firstID()
	return uint32(m.offsetPrefix[slot+1] - m.offsetPrefix[slot])
}

// Offset returns the byte offset of the first record of triangle id
// within the HTM-sorted data file.
func (m *PopulationMap) Offset(id uint32) uint64 {
	m.requireQueryable()
	return m.offsetPrefix[id-m.firstID()]
}

// NumNonEmpty returns the number of non-empty triangles.
func (m *PopulationMap) NumNonEmpty() int {
	m.requireQueryable()
	return len(m.nonEmpty)
}

// MapToNonEmpty returns id if it is non-empty, and otherwise a
// deterministic, load-balanced surjection of id onto a non-empty
// triangle: the sorted non-empty ids are indexed by
// MulveyHash(id) mod len(non-empty ids).
func (m *PopulationMap) MapToNonEmpty(id uint32) (uint32, error) {
	m.requireQueryable()
	if len(m.nonEmpty) == 0 {
		return 0, errors.New("popmap: population map has no non-empty triangles")
	}
	if m.NumRecords(id) != 0 {
		return id, nil
	}
	return m.nonEmpty[sphere.MulveyHash(id)%uint32(len(m.nonEmpty))], nil
}
