package popmap

import (
	"path/filepath"
	"testing"

	"github.com/xufuture/qserv-sub001/chunker"
)

func TestChunkIndexAddAndEntries(t *testing.T) {
	idx := NewChunkIndex()
	idx.Add(5, 100, chunker.Chunk)
	idx.Add(5, 100, chunker.Chunk)
	idx.Add(5, 100, chunker.SelfOverlap)
	idx.Add(5, 101, chunker.FullOverlap)

	entries := idx.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() returned %d entries, want 2", len(entries))
	}
	if entries[0].ChunkID != 5 || entries[0].SubChunkID != 100 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].Counts[chunker.Chunk] != 2 || entries[0].Counts[chunker.SelfOverlap] != 1 {
		t.Fatalf("unexpected counts for (5,100): %+v", entries[0].Counts)
	}
	if entries[1].SubChunkID != 101 || entries[1].Counts[chunker.FullOverlap] != 1 {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestChunkIndexFileRoundTripAndMerge(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "a.bin")
	path2 := filepath.Join(dir, "b.bin")

	idx1 := NewChunkIndex()
	idx1.Add(5, 100, chunker.Chunk)
	if err := WriteChunkIndex(idx1, path1); err != nil {
		t.Fatalf("WriteChunkIndex failed: %v", err)
	}

	idx2 := NewChunkIndex()
	idx2.Add(5, 100, chunker.Chunk)
	idx2.Add(6, 200, chunker.FullOverlap)
	if err := WriteChunkIndex(idx2, path2); err != nil {
		t.Fatalf("WriteChunkIndex failed: %v", err)
	}

	merged, err := ReadChunkIndex(path1, path2)
	if err != nil {
		t.Fatalf("ReadChunkIndex failed: %v", err)
	}
	entries := merged.Entries()
	if len(entries) != 2 {
		t.Fatalf("merged Entries() returned %d entries, want 2", len(entries))
	}
	if entries[0].Counts[chunker.Chunk] != 2 {
		t.Fatalf("merged count for (5,100) = %d, want 2", entries[0].Counts[chunker.Chunk])
	}
}
