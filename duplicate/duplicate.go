package duplicate

import (
	"container/heap"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/xufuture/qserv-sub001/chunker"
	"github.com/xufuture/qserv-sub001/csvrow"
	"github.com/xufuture/qserv-sub001/popmap"
	"github.com/xufuture/qserv-sub001/recio"
	"github.com/xufuture/qserv-sub001/sphere"
)

// ChunkDuplicator generates output for a set of chunks. For each chunk
// it runs a pool of goroutines that each pull HTM ids from a shared
// work list, fill a private OutputBlock, then single-threaded heap
// merges all blocks into the chunk's three output files.
type ChunkDuplicator struct {
	opts    Options
	chunker *chunker.Chunker

	primary     KeyInfo
	foreignKeys []KeyInfo
	dataFile    *recio.MappedFile

	chunkIDField    int
	subChunkIDField int
	numOutputFields int

	chunkIDs []int32

	mu      sync.Mutex
	htmIDs  []uint32
	blocks  []*OutputBlock
	chunkID int32
}

// NewChunkDuplicator opens the primary (and any foreign key) indexes
// named by opts and determines the set of chunks to generate.
func NewChunkDuplicator(opts Options) (*ChunkDuplicator, error) {
	c, err := chunker.New(opts.Overlap, opts.NumStripes, opts.NumSubStripesPerStripe)
	if err != nil {
		return nil, errors.Wrap(err, "duplicate: constructing chunker")
	}

	primary, err := openKeyInfo(opts.IndexDir, opts.PKField)
	if err != nil {
		return nil, err
	}
	dataFile, err := recio.OpenMappedFile(filepath.Join(opts.IndexDir, "data.csv"))
	if err != nil {
		primary.File.Close()
		return nil, errors.Wrap(err, "duplicate: opening data.csv")
	}

	foreignKeys := make([]KeyInfo, 0, len(opts.ForeignKeys))
	for _, fk := range opts.ForeignKeys {
		ki, err := openKeyInfo(fk.IndexDir, fk.FieldIndex)
		if err != nil {
			return nil, err
		}
		foreignKeys = append(foreignKeys, ki)
	}

	chunkIDField, subChunkIDField, numOutputFields := resolveFieldLayout(opts)

	var chunkIDs []int32
	if len(opts.ChunkIDs) > 0 {
		chunkIDs = opts.ChunkIDs
	} else {
		chunkIDs = c.ChunksFor(opts.DupRegion, opts.Node, opts.NumNodes, opts.HashChunks)
	}

	return &ChunkDuplicator{
		opts:            opts,
		chunker:         c,
		primary:         primary,
		foreignKeys:     foreignKeys,
		dataFile:        dataFile,
		chunkIDField:    chunkIDField,
		subChunkIDField: subChunkIDField,
		numOutputFields: numOutputFields,
		chunkIDs:        chunkIDs,
	}, nil
}

func openKeyInfo(indexDir string, fieldIndex int) (KeyInfo, error) {
	m, err := popmap.ReadMapFile(filepath.Join(indexDir, "map.bin"))
	if err != nil {
		return KeyInfo{}, errors.Wrapf(err, "duplicate: reading %s/map.bin", indexDir)
	}
	f, err := recio.OpenMappedFile(filepath.Join(indexDir, "ids.bin"))
	if err != nil {
		return KeyInfo{}, errors.Wrapf(err, "duplicate: opening %s/ids.bin", indexDir)
	}
	return KeyInfo{Map: m, File: f, FieldIndex: fieldIndex}, nil
}

// ChunkIDs returns the chunks this duplicator will generate.
func (d *ChunkDuplicator) ChunkIDs() []int32 { return d.chunkIDs }

// Close releases the memory maps opened by NewChunkDuplicator.
func (d *ChunkDuplicator) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(d.dataFile.Close())
	record(d.primary.File.Close())
	for _, fk := range d.foreignKeys {
		record(fk.File.Close())
	}
	return firstErr
}

// Duplicate generates output for every chunk named by ChunkIDs.
func (d *ChunkDuplicator) Duplicate() error {
	for _, chunkID := range d.chunkIDs {
		box := d.chunker.ChunkBounds(chunkID)
		box = box.Expand(d.opts.Overlap + 1.0/3600.0)
		d.chunkID = chunkID
		d.htmIDs = sphere.OverlappingTrixels(box, d.opts.HtmLevel)
		d.blocks = nil
		if err := d.generateChunk(); err != nil {
			return errors.Wrapf(err, "duplicate: generating chunk %d", chunkID)
		}
		if err := d.finishChunk(); err != nil {
			return errors.Wrapf(err, "duplicate: writing chunk %d", chunkID)
		}
	}
	return nil
}

// generateChunk runs a pool of trixelWorkers against the current
// chunk's shared HTM id work list until it is drained.
func (d *ChunkDuplicator) generateChunk() error {
	n := d.opts.NumThreads
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for t := 0; t < n; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newTrixelWorker(d)
			if err := w.run(); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// nextHtmID pushes prevBlock onto the chunk's pending block list (if it
// holds any records), then pops and returns the next HTM id to process.
// ok is false once the work list is drained.
func (d *ChunkDuplicator) nextHtmID(prevBlock *OutputBlock) (id uint32, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prevBlock != nil && len(prevBlock.recs) > 0 {
		d.blocks = append(d.blocks, prevBlock)
	}
	if len(d.htmIDs) == 0 {
		return 0, false
	}
	id = d.htmIDs[len(d.htmIDs)-1]
	d.htmIDs = d.htmIDs[:len(d.htmIDs)-1]
	return id, true
}

// finishChunk heap-merges every block accumulated for the current chunk
// by (sub-chunk id, sort key) and routes each record to chunk_C.csv,
// ..._self.csv and/or ..._full.csv.
func (d *ChunkDuplicator) finishChunk() error {
	dir := d.opts.ChunkDir
	if d.opts.NumNodes > 1 {
		node := sphere.MulveyHash(uint32(d.chunkID)) % d.opts.NumNodes
		dir = filepath.Join(dir, fmt.Sprintf("node_%05d", node))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "duplicate: creating node output directory")
		}
	}
	base := filepath.Join(dir, d.opts.Prefix)
	suffix := fmt.Sprintf("_%d.csv", d.chunkID)

	chunkW, err := recio.NewBlockWriter(base+suffix, d.opts.BlockSize)
	if err != nil {
		return err
	}
	var selfW, fullW *recio.BlockWriter
	if d.opts.Overlap > 0.0 {
		if selfW, err = recio.NewBlockWriter(base+fmt.Sprintf("_%d_self.csv", d.chunkID), d.opts.BlockSize); err != nil {
			return err
		}
		if fullW, err = recio.NewBlockWriter(base+fmt.Sprintf("_%d_full.csv", d.chunkID), d.opts.BlockSize); err != nil {
			return err
		}
	}

	h := make(recordRunHeap, 0, len(d.blocks))
	for _, b := range d.blocks {
		if len(b.recs) == 0 {
			continue
		}
		h = append(h, &recordRun{recs: b.recs})
	}
	heap.Init(&h)
	for h.Len() > 0 {
		run := h[0]
		rec := run.get()
		switch rec.Loc.Kind {
		case chunker.Chunk:
			err = chunkW.Append(rec.Line)
		case chunker.SelfOverlap:
			if err = selfW.Append(rec.Line); err == nil {
				err = fullW.Append(rec.Line)
			}
		case chunker.FullOverlap:
			err = fullW.Append(rec.Line)
		}
		if err != nil {
			return err
		}
		if run.advance() {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	d.blocks = nil

	if err := chunkW.Close(); err != nil {
		return err
	}
	if selfW != nil {
		if err := selfW.Close(); err != nil {
			return err
		}
		if err := fullW.Close(); err != nil {
			return err
		}
	}
	return nil
}

// recordRun is a sorted, in-memory run of ChunkRecords (one OutputBlock's
// worth) being drained by finishChunk's heap merge.
type recordRun struct {
	recs []ChunkRecord
	pos  int
}

func (r *recordRun) get() ChunkRecord { return r.recs[r.pos] }

// advance moves to the next record, returning true once the run is
// exhausted.
func (r *recordRun) advance() bool {
	r.pos++
	return r.pos == len(r.recs)
}

type recordRunHeap []*recordRun

func (h recordRunHeap) Len() int            { return len(h) }
func (h recordRunHeap) Less(i, j int) bool  { return h[i].get().less(h[j].get()) }
func (h recordRunHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *recordRunHeap) Push(x interface{}) { *h = append(*h, x.(*recordRun)) }
func (h *recordRunHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// trixelWorker fills OutputBlocks for a single HTM trixel at a time,
// pulling trixels from its ChunkDuplicator's shared work list until it
// is drained.
type trixelWorker struct {
	dup  *ChunkDuplicator
	opts Options

	mapPositions bool
	posMapper    PosMapper
	keyMappers   []*KeyMapper

	fieldsBuf []int
	values    [][]byte
	locs      []chunker.Location
	block     *OutputBlock

	srcData []byte
	madvOff int64
	madvLen int64
}

func newTrixelWorker(d *ChunkDuplicator) *trixelWorker {
	return &trixelWorker{
		dup:       d,
		opts:      d.opts,
		fieldsBuf: make([]int, len(d.opts.Fields)+1),
		values:    make([][]byte, d.numOutputFields),
	}
}

// run repeatedly pulls an HTM id from the chunk's shared work list,
// fills a fresh OutputBlock with its remapped records, and hands the
// block off (via nextHtmID) once exhausted, until no ids remain.
func (w *trixelWorker) run() error {
	for {
		id, ok := w.dup.nextHtmID(w.block)
		if !ok {
			return nil
		}
		w.block = newOutputBlock()
		if err := w.setupTrixel(id); err != nil {
			return err
		}
		if err := w.processTrixel(); err != nil {
			return err
		}
		w.finishTrixel()
	}
}

// setupTrixel maps htmID to a non-empty source trixel, builds the
// position/key remappers needed (if any), and prefetches the source
// trixel's data.csv byte range.
func (w *trixelWorker) setupTrixel(htmID uint32) error {
	src, err := w.dup.primary.Map.MapToNonEmpty(htmID)
	if err != nil {
		return err
	}
	w.mapPositions = src != htmID
	if w.mapPositions {
		pm, err := NewPosMapper(src, htmID)
		if err != nil {
			return err
		}
		w.posMapper = pm
	}
	w.keyMappers = w.keyMappers[:0]
	primaryMapper, err := NewKeyMapper(w.dup.primary, src, htmID)
	if err != nil {
		return err
	}
	w.keyMappers = append(w.keyMappers, primaryMapper)
	for _, fk := range w.dup.foreignKeys {
		km, err := NewKeyMapper(fk, src, htmID)
		if err != nil {
			return err
		}
		w.keyMappers = append(w.keyMappers, km)
	}

	off := int64(w.dup.primary.Map.Offset(src))
	sz := int64(w.dup.primary.Map.Size(src))
	data := w.dup.dataFile.Data()
	if off+sz > int64(len(data)) {
		return errors.New("duplicate: data.csv is shorter than the population map claims")
	}
	w.srcData = data[off : off+sz]
	w.madvOff, w.madvLen = off, sz
	if err := w.dup.dataFile.Advise(off, sz, unix.MADV_WILLNEED); err != nil {
		return errors.Wrap(err, "duplicate: prefetching source trixel data")
	}
	return nil
}

// finishTrixel releases the source trixel's data.csv pages back to the
// kernel now that this worker is done scanning them.
func (w *trixelWorker) finishTrixel() {
	w.dup.dataFile.Advise(w.madvOff, w.madvLen, unix.MADV_DONTNEED)
}

// processTrixel scans every CSV line of the source trixel's data,
// mapping its partitioning (and ancillary) positions and its key fields
// into the destination trixel, and emits one ChunkRecord per chunk/
// sub-chunk location the (possibly remapped) position falls in.
func (w *trixelWorker) processTrixel() error {
	data := w.srcData
	numFields := len(w.opts.Fields)
	for pos := 0; pos < len(data); {
		line := data[pos:]
		consumed, err := csvrow.Split(line, w.opts.Delimiter, w.fieldsBuf, numFields)
		if err != nil {
			return err
		}
		line = line[:consumed]
		for i := range w.values {
			w.values[i] = nil
		}

		raField, decField := w.opts.PartitionPos[0], w.opts.PartitionPos[1]
		ra, err := csvrow.ExtractDouble(csvrow.Field(line, w.fieldsBuf, raField))
		if err != nil {
			return err
		}
		dec, err := csvrow.ExtractDouble(csvrow.Field(line, w.fieldsBuf, decField))
		if err != nil {
			return err
		}
		if w.mapPositions {
			ra, dec = w.posMapper.Map(ra, dec)
		}

		w.locs = w.dup.chunker.Locate(ra, dec, w.dup.chunkID, w.locs[:0])
		if len(w.locs) == 0 {
			pos += consumed
			continue
		}

		if w.mapPositions {
			w.values[raField] = formatFloat(ra)
			w.values[decField] = formatFloat(dec)
			for _, pp := range w.opts.Positions {
				pra, err := csvrow.ExtractDouble(csvrow.Field(line, w.fieldsBuf, pp[0]))
				if err != nil {
					return err
				}
				pdec, err := csvrow.ExtractDouble(csvrow.Field(line, w.fieldsBuf, pp[1]))
				if err != nil {
					return err
				}
				mra, mdec := w.posMapper.Map(pra, pdec)
				w.values[pp[0]] = formatFloat(mra)
				w.values[pp[1]] = formatFloat(mdec)
			}
		}

		for _, km := range w.keyMappers {
			f := km.FieldIndex()
			id, err := csvrow.ExtractInt(csvrow.Field(line, w.fieldsBuf, f))
			if err != nil {
				return err
			}
			mapped, err := km.Map(id)
			if err != nil {
				return err
			}
			w.values[f] = formatInt(mapped)
		}

		var sortKey int64
		if w.opts.SecondarySortField >= 0 {
			sortKey, err = csvrow.ExtractInt(csvrow.Field(line, w.fieldsBuf, w.opts.SecondarySortField))
			if err != nil {
				return err
			}
		}
		w.values[w.dup.chunkIDField] = formatInt(int64(w.dup.chunkID))

		for _, loc := range w.locs {
			w.values[w.dup.subChunkIDField] = formatInt(int64(loc.SubChunkID))
			out := w.buildOutputLine(line)
			w.block.add(loc, sortKey, out)
		}
		pos += consumed
	}
	return nil
}

// buildOutputLine serializes one output record: original fields are
// passed through verbatim except where w.values holds a remapped
// replacement, followed by any appended chunk/sub-chunk id columns.
func (w *trixelWorker) buildOutputLine(line []byte) []byte {
	numFields := len(w.opts.Fields)
	out := make([]byte, 0, len(line)+16)
	for f := 0; f < numFields; f++ {
		if f > 0 {
			out = append(out, w.opts.Delimiter)
		}
		if w.values[f] != nil {
			out = append(out, w.values[f]...)
		} else {
			out = append(out, csvrow.Field(line, w.fieldsBuf, f)...)
		}
	}
	for f := numFields; f < w.dup.numOutputFields; f++ {
		out = append(out, w.opts.Delimiter)
		out = append(out, w.values[f]...)
	}
	out = append(out, '\n')
	return out
}

func formatInt(v int64) []byte {
	return strconv.AppendInt(nil, v, 10)
}

func formatFloat(v float64) []byte {
	return strconv.AppendFloat(nil, v, 'g', 17, 64)
}
