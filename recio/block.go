package recio

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/csvrow"
	"github.com/xufuture/qserv-sub001/sphere"
)

// MinBlockSize and MaxBlockSize bound the target block size passed to
// SplitInputs.
const (
	MinBlockSize = 2 * 1024 * 1024
	MaxBlockSize = 1024 * 1024 * 1024
)

// InputFile is an open, read-only input CSV file safe for concurrent use
// by multiple InputBlocks: each read is an independent pread-equivalent
// (os.File.ReadAt), so no shared seek position is mutated.
type InputFile struct {
	path string
	file *os.File
	size int64
}

// OpenInputFile opens path for reading and stats its size.
func OpenInputFile(path string) (*InputFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "recio: open input file")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "recio: stat input file")
	}
	return &InputFile{path: path, file: f, size: fi.Size()}, nil
}

// Path returns the file's path.
func (f *InputFile) Path() string { return f.path }

// Size returns the file's size in bytes.
func (f *InputFile) Size() int64 { return f.size }

// ReadAt reads exactly len(buf) bytes starting at offset off, returning
// an error if the file ends before buf is filled.
func (f *InputFile) ReadAt(buf []byte, off int64) error {
	n, err := f.file.ReadAt(buf, off)
	if err != nil && n != len(buf) {
		return errors.Wrap(err, "recio: short read of input block")
	}
	return nil
}

// Close releases the file descriptor. Safe to call once all blocks
// referencing f have been read.
func (f *InputFile) Close() error {
	return f.file.Close()
}

// InputBlock names a contiguous, newline-aligned byte range of an
// InputFile. Blocks are the unit of work handed to parser threads: each
// is read, parsed into Records, sorted by HTM id and then handed to the
// Merger.
type InputBlock struct {
	f      *InputFile
	Off    int64
	Length int64

	buf  []byte
	recs []Record
}

// File returns the InputFile this block reads from.
func (b *InputBlock) File() *InputFile { return b.f }

// Read loads the block's bytes into memory, if not already loaded.
func (b *InputBlock) Read() ([]byte, error) {
	if b.buf == nil {
		buf := make([]byte, b.Length)
		if err := b.f.ReadAt(buf, b.Off); err != nil {
			return nil, err
		}
		b.buf = buf
	}
	return b.buf, nil
}

// Records returns the block's parsed, sorted records. Empty until
// Process has been called.
func (b *InputBlock) Records() []Record { return b.recs }

// ParseOptions configures how InputBlock.Process extracts a Record from
// each CSV line.
type ParseOptions struct {
	Delimiter      byte
	NumFields      int
	PKField        int
	RaField        int
	DecField       int
	HtmLevel       int
}

// Process reads the block (if necessary), parses every line into a
// Record, sorts the records by HTM id (ascending, the order the Merger
// and PopulationMap both require), and folds per-id (count, byte)
// totals into pop via consecutive-run counting over the now-sorted
// slice. It returns the block's sorted records.
func (b *InputBlock) Process(opts ParseOptions, pop PopulationAdder) ([]Record, error) {
	buf, err := b.Read()
	if err != nil {
		return nil, err
	}
	fields := make([]int, opts.NumFields+1)
	records := make([]Record, 0, len(buf)/1024+1)
	for pos := 0; pos < len(buf); {
		line := buf[pos:]
		consumed, err := csvrow.Split(line, opts.Delimiter, fields, opts.NumFields)
		if err != nil {
			return nil, errors.Wrapf(err, "recio: parse error at offset %d", b.Off+int64(pos))
		}
		pkField := csvrow.Field(line, fields, opts.PKField)
		if csvrow.IsNull(pkField) {
			return nil, errors.New("recio: CSV line contains a NULL primary key value")
		}
		id, err := csvrow.ExtractInt(pkField)
		if err != nil {
			return nil, err
		}
		ra, err := csvrow.ExtractDouble(csvrow.Field(line, fields, opts.RaField))
		if err != nil {
			return nil, err
		}
		dec, err := csvrow.ExtractDouble(csvrow.Field(line, fields, opts.DecField))
		if err != nil {
			return nil, err
		}
		htmID, err := sphere.HtmID(sphere.Cartesian(ra, dec), opts.HtmLevel)
		if err != nil {
			return nil, errors.Wrap(err, "recio: computing htm id for record")
		}
		records = append(records, Record{
			Info: RecordInfo{HtmID: htmID, Length: uint32(consumed), ID: id},
			Line: line[:consumed],
		})
		pos += consumed
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Less(records[j]) })

	if pop != nil && len(records) > 0 {
		htmID := records[0].Info.HtmID
		var nrec, nbytes uint64
		for _, r := range records {
			if r.Info.HtmID != htmID {
				pop.Add(htmID, nrec, nbytes)
				htmID, nrec, nbytes = r.Info.HtmID, 0, 0
			}
			nrec++
			nbytes += uint64(r.Info.Length)
		}
		pop.Add(htmID, nrec, nbytes)
	}

	b.recs = records
	return records, nil
}

// SplitInputs breaks paths into a sequence of InputBlocks of approximately
// blockSize bytes each, choosing boundaries such that no line spans a
// block: starting from each nominal k*blockSize boundary, it scans
// backward up to csvrow.MaxLineSize bytes looking for a newline.
func SplitInputs(paths []string, blockSize int64) ([]*InputBlock, error) {
	if blockSize < MinBlockSize || blockSize < 2*csvrow.MaxLineSize {
		return nil, fmt.Errorf("recio: input block size must be >= %d bytes", MinBlockSize)
	}
	if blockSize > MaxBlockSize {
		return nil, fmt.Errorf("recio: input block size must be <= %d bytes", MaxBlockSize)
	}

	var blocks []*InputBlock
	for _, path := range paths {
		f, err := OpenInputFile(path)
		if err != nil {
			return nil, err
		}
		scan := make([]byte, csvrow.MaxLineSize)
		var start int64
		for k := int64(1); start < f.Size(); k++ {
			end := k * blockSize
			if end >= f.Size() {
				end = f.Size()
			} else {
				winStart := end - csvrow.MaxLineSize
				if err := f.ReadAt(scan, winStart); err != nil {
					return nil, errors.Wrapf(err, "recio: scanning for line boundary in %s", path)
				}
				i := csvrow.MaxLineSize - 1
				for i >= 0 && scan[i] != '\n' {
					i--
				}
				if i < 0 {
					return nil, fmt.Errorf("recio: line exceeds MAX_LINE_SIZE near offset %d in %s", end, path)
				}
				end = winStart + int64(i) + 1
			}
			blocks = append(blocks, &InputBlock{f: f, Off: start, Length: end - start})
			start = end
		}
	}
	return blocks, nil
}
