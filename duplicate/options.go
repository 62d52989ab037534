// Package duplicate implements the duplicator core: given an HTM-sorted
// index built by the recio/popmap pipeline, it synthesizes catalog rows
// at arbitrary sky density by copying records from populated HTM
// triangles into empty ones, remapping positions through a per-triangle
// linear transform and primary/foreign keys through binary search on
// the index, then buckets the result into Qserv chunks and sub-chunks
// with overlap.
package duplicate

import "github.com/xufuture/qserv-sub001/sphere"

// ForeignKeyOption names one foreign key column to be remapped: the
// field's index in Options.Fields, and the index directory (its own
// map.bin/ids.bin) the key was originally assigned from.
type ForeignKeyOption struct {
	FieldIndex int
	IndexDir   string
}

// Options configures a ChunkDuplicator. It mirrors the duplicator
// command line: field layout, the remapping rules for the primary key,
// ancillary positions and foreign keys, the chunking geometry, and the
// node/region selection used to pick which chunks to generate.
type Options struct {
	// Fields is the list of CSV field names, in occurrence order,
	// that make up one line of the source index's data.csv.
	Fields    []string
	Delimiter byte

	// PartitionPos holds the [ra, dec] field indexes used to locate
	// a record in the chunking scheme.
	PartitionPos [2]int
	// Positions holds additional [ra, dec] field index pairs that
	// must be remapped alongside PartitionPos whenever a record's
	// position is mapped from a source to a destination trixel.
	Positions [][2]int

	// PKField is the primary key field index, always remapped.
	PKField int
	// ForeignKeys lists additional key fields to remap, each against
	// its own index directory's population map and id file.
	ForeignKeys []ForeignKeyOption

	// ChunkIDField and SubChunkIDField are field indexes to write the
	// chunk/sub-chunk id into. A negative value means the field is
	// absent from Fields and is appended as a new output column.
	ChunkIDField    int
	SubChunkIDField int
	// SecondarySortField is the field index used to break ties
	// between records with equal sub-chunk id in the chunk output
	// order, or -1 if output order within a sub-chunk is unspecified.
	SecondarySortField int

	// Overlap is the partitioning overlap radius in degrees.
	Overlap                float64
	NumStripes             int32
	NumSubStripesPerStripe int32
	// HtmLevel is the HTM subdivision level the source index's
	// map.bin/ids.bin were built at.
	HtmLevel int

	IndexDir string
	ChunkDir string
	Prefix   string

	DupRegion  sphere.Box
	Node       uint32
	NumNodes   uint32
	HashChunks bool
	// ChunkIDs, if non-empty, names the exact chunks to generate;
	// otherwise chunks are derived from DupRegion/Node/NumNodes.
	ChunkIDs []int32

	NumThreads int
	// BlockSize is the write buffer size passed to each output
	// chunk file's recio.BlockWriter.
	BlockSize int
}

// resolveFieldLayout computes the concrete chunk-id/sub-chunk-id field
// indexes and the total output field count, appending either field as a
// new trailing column when its Options index is negative. This mirrors
// the duplicator's one-time constructor-side layout decision: every
// record of every chunk uses the same field layout.
func resolveFieldLayout(opts Options) (chunkIDField, subChunkIDField, numOutputFields int) {
	numOutputFields = len(opts.Fields)
	chunkIDField = opts.ChunkIDField
	if chunkIDField < 0 {
		chunkIDField = numOutputFields
		numOutputFields++
	}
	subChunkIDField = opts.SubChunkIDField
	if subChunkIDField < 0 {
		subChunkIDField = numOutputFields
		numOutputFields++
	}
	return chunkIDField, subChunkIDField, numOutputFields
}
