// Package indexer orchestrates recio, the Merger and the PopulationMap
// into the end-to-end external-sort pipeline: split the input CSVs into
// blocks, parse and HTM-sort each block across a pool of threads that
// share one block queue, merge the sorted blocks into data.csv/ids.bin,
// and write the resulting population map to map.bin.
package indexer

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/internal/plog"
	"github.com/xufuture/qserv-sub001/popmap"
	"github.com/xufuture/qserv-sub001/recio"
)

// Options configures a Run: the input files, where to write the index,
// and the pipeline's sizing knobs. Field names mirror spec.md §6's flag
// names directly, matching how duplicate.Options mirrors its own
// command line.
type Options struct {
	// InputFiles lists the source CSVs to index, read in order.
	InputFiles []string
	// IndexDir is where data.csv, ids.bin and map.bin are written.
	IndexDir string
	// ScratchDir holds the merger's spill file, if one is needed.
	ScratchDir string

	Delimiter byte
	NumFields int
	PKField   int
	RaField   int
	DecField  int
	HtmLevel  int

	BlockSize  int64
	MergeFanIn int
	NumThreads int
}

// Run executes one indexing pass: split InputFiles into blocks, process
// and merge them, and write the population map. It returns the
// queryable PopulationMap it built, matching the original Index.cc's
// "makeQueryable then write" tail sequence.
func Run(opts Options, log *plog.Logger) (*popmap.PopulationMap, error) {
	blocks, err := recio.SplitInputs(opts.InputFiles, opts.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "indexer: splitting input files")
	}
	if log != nil {
		log.Printf("indexer: split input into %d blocks", len(blocks))
	}

	m, err := popmap.New(opts.HtmLevel)
	if err != nil {
		return nil, errors.Wrap(err, "indexer: creating population map")
	}

	merger, err := recio.NewMerger(
		filepath.Join(opts.IndexDir, "data.csv"),
		filepath.Join(opts.IndexDir, "ids.bin"),
		filepath.Join(opts.ScratchDir, "scratch.bin"),
		int(opts.BlockSize), opts.MergeFanIn, len(blocks))
	if err != nil {
		return nil, errors.Wrap(err, "indexer: creating merger")
	}

	parseOpts := recio.ParseOptions{
		Delimiter: opts.Delimiter,
		NumFields: opts.NumFields,
		PKField:   opts.PKField,
		RaField:   opts.RaField,
		DecField:  opts.DecField,
		HtmLevel:  opts.HtmLevel,
	}

	numThreads := opts.NumThreads
	if numThreads < 1 {
		numThreads = 1
	}
	if err := runParsePool(numThreads, blocks, parseOpts, m, merger); err != nil {
		merger.Finish()
		return nil, err
	}

	if log != nil {
		log.Printf("indexer: first pass finished, merging")
	}
	if err := merger.Finish(); err != nil {
		return nil, errors.Wrap(err, "indexer: finishing merge")
	}

	if err := m.MakeQueryable(); err != nil {
		return nil, errors.Wrap(err, "indexer: making population map queryable")
	}
	if err := popmap.WriteMapFile(m, filepath.Join(opts.IndexDir, "map.bin")); err != nil {
		return nil, errors.Wrap(err, "indexer: writing map.bin")
	}
	if log != nil {
		log.Printf("indexer: wrote map.bin (%d records, %d non-empty triangles)", m.TotalNumRecords(), m.NumNonEmpty())
	}
	return m, nil
}

// blockQueue is the shared work list numThreads parser goroutines pop
// from, guarded by a single mutex — the Go equivalent of Index.cc's
// State.mutex/State.blocks pair.
type blockQueue struct {
	mu     sync.Mutex
	blocks []*recio.InputBlock
}

func (q *blockQueue) next() (*recio.InputBlock, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.blocks) == 0 {
		return nil, false
	}
	b := q.blocks[len(q.blocks)-1]
	q.blocks = q.blocks[:len(q.blocks)-1]
	return b, true
}

// runParsePool runs numThreads goroutines that pop blocks from a shared
// queue, process them, and hand each sorted block to merger. A goroutine
// that hits an error stops; the others keep draining the queue, and
// once all have returned the first reported error is returned.
func runParsePool(numThreads int, blocks []*recio.InputBlock, opts recio.ParseOptions, pop recio.PopulationAdder, merger *recio.Merger) error {
	q := &blockQueue{blocks: append([]*recio.InputBlock(nil), blocks...)}

	var wg sync.WaitGroup
	errs := make(chan error, numThreads)
	for i := 0; i < numThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				b, ok := q.next()
				if !ok {
					return
				}
				if _, err := b.Process(opts, pop); err != nil {
					errs <- err
					return
				}
				if err := merger.Add(b); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return errors.Wrap(err, "indexer: parse thread")
		}
	}
	return nil
}
