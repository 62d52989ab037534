// Package mapreduce implements a generic, phase-based map-reduce engine
// for batch command-line jobs: a fixed pool of worker goroutines reads
// line-aligned input blocks, maps each block's bytes into keyed records
// held in a private silo, and once every silo has either been filled or
// input has run dry, merge-sorts the parked silos and hands each worker
// only the runs of records whose key hashes to that worker's rank. This
// repeats, map phase then reduce phase, until the input is exhausted.
//
// A Worker implementation can assume it is never mapping while another
// worker is reducing, that no other worker observes the records its Map
// and Reduce calls receive, and that every record sharing a given key is
// seen by exactly one worker (possibly across several phases).
package mapreduce

// Key is a map-reduce record key: hashable for worker assignment during
// the reduce phase, and ordered so that records can be sorted within a
// silo and merged across silos.
type Key interface {
	// Hash returns a hash of the key. Records with equal keys must
	// hash identically.
	Hash() uint32
	// Less reports whether this key sorts before other.
	Less(other Key) bool
}

func keysEqual(a, b Key) bool {
	return !a.Less(b) && !b.Less(a)
}

// Record pairs a Key with the raw bytes a Worker chose to keep for it.
type Record struct {
	Key  Key
	Data []byte
}

// Worker is implemented by map-reduce job logic. A Job creates one
// Worker per rank and drives it through alternating map and reduce
// phases on a dedicated goroutine; a Worker's methods are therefore
// never called concurrently with each other.
type Worker interface {
	// Map is passed one block of input text and a silo to populate.
	// It is expected to parse out zero or more records and Add each
	// to silo.
	Map(data []byte, silo *Silo) error
	// Reduce is passed a run of records sharing an identical key.
	// Reduce may be called several times in a row with the same key
	// across phases before all of that key's records have been seen.
	Reduce(records []Record) error
	// Finish is called once at the end of every reduce phase, after
	// all runs for that phase have been delivered. A Worker that
	// buffers partial results across Reduce calls should flush here.
	Finish() error
}

// Result summarizes the data a single Worker observed across the whole
// job. Merge folds another worker's Result into the receiver.
type Result interface {
	Merge(other Result)
}

// ResultWorker is a Worker that produces a Result once input is fully
// exhausted and its final Finish call has returned. Workers with
// nothing to report need not implement it.
type ResultWorker interface {
	Worker
	Result() Result
}

// MergeResults folds a slice of per-worker results (as returned by
// Job.Run) into one, skipping nils. It returns nil if results is empty
// or contains only nils.
func MergeResults(results []Result) Result {
	var out Result
	for _, r := range results {
		if r == nil {
			continue
		}
		if out == nil {
			out = r
		} else {
			out.Merge(r)
		}
	}
	return out
}
