package duplicate

import "github.com/xufuture/qserv-sub001/chunker"

// ChunkRecord is one rewritten output line along with the chunk/sub-
// chunk location and overlap kind it was produced for, and the
// secondary sort key used to order it against other records destined
// for the same sub-chunk.
type ChunkRecord struct {
	Loc     chunker.Location
	SortKey int64
	Line    []byte
}

// less orders two ChunkRecords by (sub-chunk id, sort key), the order
// finishChunk's heap merge produces each chunk's output files in.
func (r ChunkRecord) less(o ChunkRecord) bool {
	if r.Loc.SubChunkID != o.Loc.SubChunkID {
		return r.Loc.SubChunkID < o.Loc.SubChunkID
	}
	return r.SortKey < o.SortKey
}

// OutputBlock is one worker goroutine's private accumulation of
// ChunkRecords for a chunk. Each record's line is an owned copy, since
// the source bytes it was built from are reused (or unmapped) as soon
// as the worker moves to the next input line. Unlike the source's
// pooled-arena allocator, this simply lets the garbage collector own
// each line: the arena exists in the original to avoid a malloc per
// line, a concern Go's allocator already amortizes well for
// short-lived byte slices of this size.
type OutputBlock struct {
	recs []ChunkRecord
}

func newOutputBlock() *OutputBlock {
	return &OutputBlock{recs: make([]ChunkRecord, 0, 8192)}
}

// add appends a copy of line as a new ChunkRecord.
func (b *OutputBlock) add(loc chunker.Location, sortKey int64, line []byte) {
	cp := make([]byte, len(line))
	copy(cp, line)
	b.recs = append(b.recs, ChunkRecord{Loc: loc, SortKey: sortKey, Line: cp})
}

// Records returns the block's accumulated records.
func (b *OutputBlock) Records() []ChunkRecord { return b.recs }
