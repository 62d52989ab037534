package recio

import (
	"os"
	"path/filepath"
	"testing"
)

func blockFromRecords(recs []Record) *InputBlock {
	return &InputBlock{recs: recs}
}

func rec(htmID uint32, id int64, line string) Record {
	return Record{Info: RecordInfo{HtmID: htmID, Length: uint32(len(line)), ID: id}, Line: []byte(line)}
}

func readIDs(t *testing.T, path string) []int64 {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if len(data)%8 != 0 {
		t.Fatalf("ids.bin length %d not a multiple of 8", len(data))
	}
	ids := make([]int64, len(data)/8)
	for i := range ids {
		var v uint64
		for j := 0; j < 8; j++ {
			v |= uint64(data[i*8+j]) << (8 * j)
		}
		ids[i] = int64(v)
	}
	return ids
}

func TestMergerNoSpillMergesInHtmOrder(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMerger(
		filepath.Join(dir, "data.csv"),
		filepath.Join(dir, "ids.bin"),
		filepath.Join(dir, "scratch.bin"),
		64, 4, 2,
	)
	if err != nil {
		t.Fatalf("NewMerger failed: %v", err)
	}
	b1 := blockFromRecords([]Record{rec(1, 10, "a\n"), rec(3, 30, "c\n")})
	b2 := blockFromRecords([]Record{rec(2, 20, "b\n"), rec(4, 40, "d\n")})
	if err := m.Add(b1); err != nil {
		t.Fatalf("Add b1 failed: %v", err)
	}
	if err := m.Add(b2); err != nil {
		t.Fatalf("Add b2 failed: %v", err)
	}
	if err := m.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "data.csv"))
	if err != nil {
		t.Fatalf("reading data.csv: %v", err)
	}
	if string(data) != "a\nb\nc\nd\n" {
		t.Fatalf("data.csv = %q, want %q", data, "a\nb\nc\nd\n")
	}
	ids := readIDs(t, filepath.Join(dir, "ids.bin"))
	want := []int64{10, 20, 30, 40}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestMergerSpillsAndMergesFinalPass(t *testing.T) {
	dir := t.TempDir()
	// k=2, numInputBlocks=3 forces a scratch spill: the first two
	// blocks merge to scratch, the third (the last block) also merges
	// to scratch since it arrives alone after the queue drains, then
	// Finish performs the final mapped pass over the two scratch runs.
	m, err := NewMerger(
		filepath.Join(dir, "data.csv"),
		filepath.Join(dir, "ids.bin"),
		filepath.Join(dir, "scratch.bin"),
		64, 2, 3,
	)
	if err != nil {
		t.Fatalf("NewMerger failed: %v", err)
	}
	b1 := blockFromRecords([]Record{rec(1, 10, "a\n")})
	b2 := blockFromRecords([]Record{rec(4, 40, "d\n")})
	b3 := blockFromRecords([]Record{rec(2, 20, "b\n"), rec(3, 30, "c\n")})
	if err := m.Add(b1); err != nil {
		t.Fatalf("Add b1 failed: %v", err)
	}
	if err := m.Add(b2); err != nil {
		t.Fatalf("Add b2 failed: %v", err)
	}
	if err := m.Add(b3); err != nil {
		t.Fatalf("Add b3 failed: %v", err)
	}
	if err := m.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "data.csv"))
	if err != nil {
		t.Fatalf("reading data.csv: %v", err)
	}
	if string(data) != "a\nb\nc\nd\n" {
		t.Fatalf("data.csv = %q, want %q", data, "a\nb\nc\nd\n")
	}
	ids := readIDs(t, filepath.Join(dir, "ids.bin"))
	want := []int64{10, 20, 30, 40}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestMergerRejectsBadFanIn(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewMerger(
		filepath.Join(dir, "data.csv"),
		filepath.Join(dir, "ids.bin"),
		filepath.Join(dir, "scratch.bin"),
		64, 1, 2,
	); err == nil {
		t.Fatal("expected error for k < 2")
	}
}
