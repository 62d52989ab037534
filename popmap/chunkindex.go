package popmap

import (
	"encoding/binary"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/chunker"
)

// chunkIndexEntrySize is the on-disk size, in bytes, of one ChunkIndex
// entry: i32 chunkID, i32 subChunkID, 3 x u64 counts.
const chunkIndexEntrySize = 4 + 4 + 3*8

// chunkLocation identifies a (chunk, sub-chunk) pair.
type chunkLocation struct {
	ChunkID, SubChunkID int32
}

// ChunkEntry is one ChunkIndex record: per-sub-chunk counts, indexed by
// chunker.Overlap kind (Chunk, SelfOverlap, FullOverlap).
type ChunkEntry struct {
	ChunkID    int32
	SubChunkID int32
	Counts     [3]uint64
}

// ChunkIndex tracks, for every (chunk id, sub-chunk id) pair produced by
// the duplicator, the number of records written to each of the three
// output streams (chunk_C.csv, chunk_C_self.csv, chunk_C_full.csv).
// Like HtmIndex, it is a sparse, incrementally mergeable map rather
// than a fixed-size array: concatenating two ChunkIndex files and
// re-reading them with ReadChunkIndex is equivalent to merging them.
type ChunkIndex struct {
	byLoc map[chunkLocation]*ChunkEntry
}

// NewChunkIndex creates an empty ChunkIndex.
func NewChunkIndex() *ChunkIndex {
	return &ChunkIndex{byLoc: make(map[chunkLocation]*ChunkEntry)}
}

// Add records one output record of the given overlap kind for
// (chunkID, subChunkID).
func (c *ChunkIndex) Add(chunkID, subChunkID int32, kind chunker.Overlap) {
	loc := chunkLocation{chunkID, subChunkID}
	e, ok := c.byLoc[loc]
	if !ok {
		e = &ChunkEntry{ChunkID: chunkID, SubChunkID: subChunkID}
		c.byLoc[loc] = e
	}
	e.Counts[kind]++
}

// Entries returns the index's entries, sorted by (chunk id, sub-chunk
// id).
func (c *ChunkIndex) Entries() []ChunkEntry {
	out := make([]ChunkEntry, 0, len(c.byLoc))
	for _, e := range c.byLoc {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChunkID != out[j].ChunkID {
			return out[i].ChunkID < out[j].ChunkID
		}
		return out[i].SubChunkID < out[j].SubChunkID
	})
	return out
}

// WriteChunkIndex serializes c to path as a little-endian stream of
// {chunk_id:i32, sub_chunk_id:i32, counts[3]:u64} entries.
func WriteChunkIndex(c *ChunkIndex, path string) error {
	entries := c.Entries()
	buf := make([]byte, chunkIndexEntrySize*len(entries))
	off := 0
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.ChunkID))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(e.SubChunkID))
		for i, cnt := range e.Counts {
			binary.LittleEndian.PutUint64(buf[off+8+8*i:], cnt)
		}
		off += chunkIndexEntrySize
	}
	return errors.Wrap(os.WriteFile(path, buf, 0644), "popmap: write chunk index")
}

// ReadChunkIndex reads and merges one or more ChunkIndex files written
// by WriteChunkIndex.
func ReadChunkIndex(paths ...string) (*ChunkIndex, error) {
	idx := NewChunkIndex()
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "popmap: read chunk index file")
		}
		if len(raw)%chunkIndexEntrySize != 0 {
			return nil, errors.New("popmap: invalid chunk index file")
		}
		n := len(raw) / chunkIndexEntrySize
		off := 0
		for i := 0; i < n; i++ {
			chunkID := int32(binary.LittleEndian.Uint32(raw[off:]))
			subChunkID := int32(binary.LittleEndian.Uint32(raw[off+4:]))
			loc := chunkLocation{chunkID, subChunkID}
			e, ok := idx.byLoc[loc]
			if !ok {
				e = &ChunkEntry{ChunkID: chunkID, SubChunkID: subChunkID}
				idx.byLoc[loc] = e
			}
			for k := 0; k < 3; k++ {
				e.Counts[k] += binary.LittleEndian.Uint64(raw[off+8+8*k:])
			}
			off += chunkIndexEntrySize
		}
	}
	return idx, nil
}
