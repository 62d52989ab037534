package mapreduce

import (
	"container/heap"
	"sync"

	"github.com/pkg/errors"
)

// Options configures a Job.
type Options struct {
	// NumWorkers is the number of worker goroutines in the pool. Must
	// be at least 1.
	NumWorkers int
	// Threshold is the approximate number of bytes (per Silo.BytesUsed)
	// a silo may accumulate during a map phase before it is sorted and
	// parked for the following reduce phase. Must be at least 1.
	Threshold int
}

// Job drives a pool of Workers through alternating map and reduce
// phases over an InputReader until input is exhausted, then collects
// each worker's Result (if any).
//
// Job generalizes the per-chunk thread pool used by the duplicator and
// the per-block parser pool used by the indexing pipeline into a single
// reusable engine: anywhere a batch job wants to fan work out across N
// threads, accumulate keyed intermediate records, and guarantee that
// all records sharing a key are seen by the same worker, it can define
// a Worker and run it through a Job instead of hand-rolling the
// silo/heap/barrier bookkeeping again.
type Job struct {
	workers    []Worker
	numWorkers int
	threshold  int
	input      InputReader

	mu             sync.Mutex
	mapCond        *sync.Cond
	reduceCond     *sync.Cond
	silos          siloHeap
	sorted         []*Silo
	inputExhausted bool
	numMappers     int
	numReducers    int
	failed         bool
	firstErr       error

	results []Result
}

// New builds a Job with opts.NumWorkers workers, each constructed by
// calling newWorker with its rank in [0, NumWorkers).
func New(newWorker func(rank int) Worker, input InputReader, opts Options) (*Job, error) {
	if opts.NumWorkers < 1 {
		return nil, errors.New("mapreduce: NumWorkers must be >= 1")
	}
	if opts.Threshold < 1 {
		return nil, errors.New("mapreduce: Threshold must be >= 1")
	}
	if input == nil {
		return nil, errors.New("mapreduce: input must not be nil")
	}
	workers := make([]Worker, opts.NumWorkers)
	silos := make(siloHeap, opts.NumWorkers)
	for i := 0; i < opts.NumWorkers; i++ {
		workers[i] = newWorker(i)
		silos[i] = newSilo()
	}
	j := &Job{
		workers:    workers,
		numWorkers: opts.NumWorkers,
		threshold:  opts.Threshold,
		input:      input,
		silos:      silos,
	}
	j.mapCond = sync.NewCond(&j.mu)
	j.reduceCond = sync.NewCond(&j.mu)
	return j, nil
}

// Run launches the worker pool and blocks until every worker has
// finished, returning the Result of every ResultWorker, nil ones included.
// If any worker returns an error, Run aborts the job as soon as the
// other workers notice and returns that error; this is the Go analogue
// of the batch "log and exit" failure model — a cmd/ entry point is
// expected to log the error and exit non-zero, not Run itself.
func (j *Job) Run() ([]Result, error) {
	var wg sync.WaitGroup
	wg.Add(j.numWorkers)
	for rank := 0; rank < j.numWorkers; rank++ {
		go func(rank int) {
			defer wg.Done()
			if err := j.runWorker(rank); err != nil {
				j.fail(err)
			}
		}(rank)
	}
	wg.Wait()
	if j.firstErr != nil {
		return nil, j.firstErr
	}
	return j.results, nil
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	if !j.failed {
		j.failed = true
		j.firstErr = err
	}
	j.mu.Unlock()
	j.mapCond.Broadcast()
	j.reduceCond.Broadcast()
}

func (j *Job) runWorker(rank int) error {
	worker := j.workers[rank]
	for {
		if err := j.mapPhase(worker); err != nil {
			return err
		}

		j.mu.Lock()
		if j.failed {
			j.mu.Unlock()
			return nil
		}
		j.numReducers++
		if j.numReducers == j.numWorkers {
			j.numMappers = 0
		} else {
			for j.numReducers != j.numWorkers && !j.failed {
				j.reduceCond.Wait()
			}
		}
		j.reduceCond.Broadcast()
		failed := j.failed
		sorted := j.sorted
		j.mu.Unlock()
		if failed {
			return nil
		}

		if err := j.reducePhase(rank, worker, sorted); err != nil {
			return err
		}

		j.mu.Lock()
		if j.failed {
			j.mu.Unlock()
			return nil
		}
		if j.inputExhausted {
			if rw, ok := worker.(ResultWorker); ok {
				j.results = append(j.results, rw.Result())
			}
			j.mu.Unlock()
			return nil
		}
		j.numMappers++
		if j.numMappers == j.numWorkers {
			for _, s := range j.sorted {
				s.clear()
			}
			j.silos = siloHeap(j.sorted)
			heap.Init(&j.silos)
			j.sorted = nil
			j.numReducers = 0
		} else {
			for j.numMappers != j.numWorkers && !j.failed {
				j.mapCond.Wait()
			}
		}
		j.mapCond.Broadcast()
		j.mu.Unlock()
	}
}

func (j *Job) mapPhase(worker Worker) error {
	for {
		j.mu.Lock()
		if j.failed || len(j.silos) == 0 {
			j.mu.Unlock()
			return nil
		}
		silo := heap.Pop(&j.silos).(*Silo)
		j.mu.Unlock()

		data, ok, err := j.input.Read()
		if err != nil {
			return errors.Wrap(err, "mapreduce: reading input")
		}
		if !ok {
			silo.sort()
			j.mu.Lock()
			j.inputExhausted = true
			j.sorted = append(j.sorted, silo)
			j.mu.Unlock()
			continue
		}

		if err := worker.Map(data, silo); err != nil {
			return errors.Wrap(err, "mapreduce: worker map")
		}
		if silo.BytesUsed() > j.threshold {
			silo.sort()
			j.mu.Lock()
			j.sorted = append(j.sorted, silo)
			j.mu.Unlock()
			continue
		}
		j.mu.Lock()
		heap.Push(&j.silos, silo)
		j.mu.Unlock()
	}
}

func (j *Job) reducePhase(rank int, worker Worker, sorted []*Silo) error {
	var ranges rangeHeap
	for _, silo := range sorted {
		if !silo.Empty() {
			ranges = append(ranges, &sortedRange{recs: silo.Records()})
		}
	}
	heap.Init(&ranges)
	for len(ranges) > 0 {
		r := ranges[0]
		run := r.advanceRun()
		if run[0].Key.Hash()%uint32(j.numWorkers) == uint32(rank) {
			if err := worker.Reduce(run); err != nil {
				return errors.Wrap(err, "mapreduce: worker reduce")
			}
		}
		if r.empty() {
			heap.Pop(&ranges)
		} else {
			heap.Fix(&ranges, 0)
		}
	}
	return errors.Wrap(worker.Finish(), "mapreduce: worker finish")
}
