package recio

import (
	"container/heap"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MergeBlockSize is the sliding madvise window used when scanning a
// memory-mapped scratch run during the merger's final pass.
const MergeBlockSize = 2 * 1024 * 1024

// recordInfoSize is the on-disk size of a RecordInfo: two uint32s and
// one int64.
const recordInfoSize = 16

// Merger performs a k-way merge of sorted InputBlocks into the final
// HTM-sorted data.csv/ids.bin pair. When more than k blocks are added,
// intermediate merges are spilled to a scratch file (each run prefixed
// with its RecordInfo per line); a final memory-mapped pass merges the
// spilled runs.
//
// Add may be called concurrently by multiple parser threads; exactly
// one goroutine performs each merge while the others continue parsing,
// matching the "add blocks while a merge is in flight" flow-control
// contract: once k blocks have accumulated, further Add calls block
// until the in-progress merge completes.
type Merger struct {
	mu           sync.Mutex
	full         *sync.Cond
	mergeDone    *sync.Cond
	pending      []*InputBlock
	k            int
	numRemaining int
	merging      bool

	scratchBlocks []scratchRange
	scratchWriter *BlockWriter
	dataWriter    *BlockWriter
	idWriter      *BlockWriter

	err error
}

type scratchRange struct {
	beg, end int64
}

// NewMerger creates a Merger that will produce dataFile and idFile,
// spilling to scratchFile if numInputBlocks exceeds k.
func NewMerger(dataFile, idFile, scratchFile string, blockSize int, k, numInputBlocks int) (*Merger, error) {
	if k < 2 {
		return nil, errors.New("recio: merge factor k must be >= 2")
	}
	if numInputBlocks == 0 {
		return nil, errors.New("recio: no input blocks")
	}
	dataWriter, err := NewBlockWriter(dataFile, blockSize)
	if err != nil {
		return nil, err
	}
	idWriter, err := NewBlockWriter(idFile, blockSize)
	if err != nil {
		dataWriter.Close()
		return nil, err
	}
	m := &Merger{
		k:            k,
		numRemaining: numInputBlocks,
		dataWriter:   dataWriter,
		idWriter:     idWriter,
	}
	m.full = sync.NewCond(&m.mu)
	m.mergeDone = sync.NewCond(&m.mu)
	if numInputBlocks > k {
		scratchWriter, err := NewBlockWriter(scratchFile, blockSize)
		if err != nil {
			dataWriter.Close()
			idWriter.Close()
			return nil, err
		}
		m.scratchWriter = scratchWriter
	}
	return m, nil
}

// Add enqueues a processed, sorted InputBlock for merging. It blocks
// while the merge queue already holds k blocks and a merge is in
// progress, and it blocks again (becoming the merge thread) once the
// queue has accumulated k blocks or the last block has arrived.
func (m *Merger) Add(b *InputBlock) error {
	m.mu.Lock()
	if m.numRemaining == 0 {
		m.mu.Unlock()
		return errors.New("recio: Merger.Add called more times than numInputBlocks")
	}
	for len(m.pending) == m.k {
		m.full.Wait()
	}
	m.numRemaining--
	m.pending = append(m.pending, b)
	ready := len(m.pending) == m.k || m.numRemaining == 0
	if !ready {
		m.mu.Unlock()
		return nil
	}
	for m.merging {
		m.mergeDone.Wait()
	}
	m.merging = true
	blocks := m.pending
	m.pending = nil
	m.full.Signal()
	m.mu.Unlock()

	runs := make([]*inputRun, len(blocks))
	for i, blk := range blocks {
		runs[i] = &inputRun{recs: blk.Records()}
	}
	final := m.scratchWriter == nil
	err := m.mergeRuns(runs, final)

	m.mu.Lock()
	m.merging = false
	if err != nil && m.err == nil {
		m.err = err
	}
	m.mergeDone.Signal()
	m.mu.Unlock()
	return err
}

// Finish performs the final mapped-scratch-file pass (if any blocks
// were spilled) and closes the output writers. It must be called after
// every Add has returned.
func (m *Merger) Finish() error {
	if m.err != nil {
		m.dataWriter.Close()
		m.idWriter.Close()
		if m.scratchWriter != nil {
			m.scratchWriter.Close()
		}
		return m.err
	}
	if m.scratchWriter != nil {
		path := m.scratchWriter.Path()
		if err := m.scratchWriter.Close(); err != nil {
			return err
		}
		mapped, err := OpenMappedFile(path)
		if err != nil {
			return err
		}
		defer mapped.Close()
		runs := make([]*scratchRun, len(m.scratchBlocks))
		for i, sb := range m.scratchBlocks {
			runs[i] = &scratchRun{mapped: mapped, beg: sb.beg, end: sb.end, pos: sb.beg}
			if err := runs[i].initialize(); err != nil {
				return err
			}
		}
		if err := m.mergeScratchRuns(runs); err != nil {
			return err
		}
	}
	if err := m.dataWriter.Close(); err != nil {
		return err
	}
	return m.idWriter.Close()
}

// --- in-memory run: a sorted slice of already-parsed Records ---

type inputRun struct {
	recs []Record
	pos  int
}

func (r *inputRun) get() Record { return r.recs[r.pos] }

func (r *inputRun) advance() bool {
	r.pos++
	return r.pos >= len(r.recs)
}

// inputRunHeap is a container/heap.Interface over live inputRuns,
// ordered by the current record's HTM id (min-heap).
type inputRunHeap []*inputRun

func (h inputRunHeap) Len() int            { return len(h) }
func (h inputRunHeap) Less(i, j int) bool  { return h[i].get().Less(h[j].get()) }
func (h inputRunHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *inputRunHeap) Push(x interface{}) { *h = append(*h, x.(*inputRun)) }
func (h *inputRunHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// mergeRuns merges runs in HTM-id order. If final is true, records are
// written straight to the dataWriter/idWriter pair; otherwise each
// record (prefixed by its RecordInfo) is appended to the scratch file
// and the written range is recorded as a new scratch run.
func (m *Merger) mergeRuns(runs []*inputRun, final bool) error {
	h := make(inputRunHeap, 0, len(runs))
	for _, r := range runs {
		if len(r.recs) > 0 {
			h = append(h, r)
		}
	}
	heap.Init(&h)

	var scratchStart int64
	if !final {
		scratchStart = m.scratchWriter.Tell()
	}
	for h.Len() > 0 {
		r := h[0]
		rec := r.get()
		if final {
			if err := m.dataWriter.Append(rec.Line); err != nil {
				return err
			}
			var idBuf [8]byte
			binary.LittleEndian.PutUint64(idBuf[:], uint64(rec.Info.ID))
			if err := m.idWriter.Append(idBuf[:]); err != nil {
				return err
			}
		} else {
			if err := m.scratchWriter.Append(encodeRecordInfo(rec.Info)); err != nil {
				return err
			}
			if err := m.scratchWriter.Append(rec.Line); err != nil {
				return err
			}
		}
		if r.advance() {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	if !final {
		m.scratchBlocks = append(m.scratchBlocks, scratchRange{beg: scratchStart, end: m.scratchWriter.Tell()})
	}
	return nil
}

// --- memory-mapped scratch run: a sorted byte range prefixed per-record ---

type scratchRun struct {
	mapped *MappedFile
	beg    int64
	end    int64
	pos    int64

	info RecordInfo
	line []byte

	windowEnd int64
}

func (r *scratchRun) initialize() error {
	windowEnd := roundDown(r.pos, MergeBlockSize) + MergeBlockSize
	if err := r.mapped.Advise(roundDown(r.pos, int64(PageSize)), windowEnd-roundDown(r.pos, int64(PageSize)), unix.MADV_WILLNEED); err != nil {
		return err
	}
	r.windowEnd = windowEnd
	return r.readRecord()
}

func (r *scratchRun) readRecord() error {
	data := r.mapped.Data()
	r.info = decodeRecordInfo(data[r.pos : r.pos+recordInfoSize])
	lineStart := r.pos + recordInfoSize
	r.line = data[lineStart : lineStart+int64(r.info.Length)]
	return nil
}

func (r *scratchRun) get() Record { return Record{Info: r.info, Line: r.line} }

func (r *scratchRun) advance() bool {
	next := r.pos + recordInfoSize + int64(r.info.Length)
	if next >= r.end {
		return true
	}
	r.pos = next
	if r.pos >= r.windowEnd {
		releaseFrom := r.windowEnd - MergeBlockSize
		r.mapped.Advise(releaseFrom, MergeBlockSize, unix.MADV_DONTNEED)
		r.windowEnd += MergeBlockSize
		if r.windowEnd < r.end {
			r.mapped.Advise(r.windowEnd-MergeBlockSize, MergeBlockSize, unix.MADV_WILLNEED)
		}
	}
	r.readRecord()
	return false
}

type scratchRunHeap []*scratchRun

func (h scratchRunHeap) Len() int            { return len(h) }
func (h scratchRunHeap) Less(i, j int) bool  { return h[i].get().Less(h[j].get()) }
func (h scratchRunHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scratchRunHeap) Push(x interface{}) { *h = append(*h, x.(*scratchRun)) }
func (h *scratchRunHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (m *Merger) mergeScratchRuns(runs []*scratchRun) error {
	h := make(scratchRunHeap, 0, len(runs))
	for _, r := range runs {
		if r.beg < r.end {
			h = append(h, r)
		}
	}
	heap.Init(&h)
	for h.Len() > 0 {
		r := h[0]
		rec := r.get()
		if err := m.dataWriter.Append(rec.Line); err != nil {
			return err
		}
		var idBuf [8]byte
		binary.LittleEndian.PutUint64(idBuf[:], uint64(rec.Info.ID))
		if err := m.idWriter.Append(idBuf[:]); err != nil {
			return err
		}
		if r.advance() {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return nil
}

func encodeRecordInfo(info RecordInfo) []byte {
	var buf [recordInfoSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], info.HtmID)
	binary.LittleEndian.PutUint32(buf[4:8], info.Length)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(info.ID))
	return buf[:]
}

func decodeRecordInfo(buf []byte) RecordInfo {
	return RecordInfo{
		HtmID:  binary.LittleEndian.Uint32(buf[0:4]),
		Length: binary.LittleEndian.Uint32(buf[4:8]),
		ID:     int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}
