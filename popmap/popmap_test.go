package popmap

import "testing"

func TestPopulationMapBuildAndQuery(t *testing.T) {
	m, err := New(1) // level 1: 8*4 = 32 trixels, ids [32, 63]
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m.Add(34, 2, 20)
	m.Add(33, 1, 10)
	m.Add(47, 5, 50)
	if err := m.MakeQueryable(); err != nil {
		t.Fatalf("MakeQueryable failed: %v", err)
	}
	if m.TotalNumRecords() != 8 {
		t.Fatalf("TotalNumRecords() = %d, want 8", m.TotalNumRecords())
	}
	if m.TotalSize() != 80 {
		t.Fatalf("TotalSize() = %d, want 80", m.TotalSize())
	}
	if m.NumRecords(34) != 2 || m.NumRecords(33) != 1 || m.NumRecords(47) != 5 {
		t.Fatalf("unexpected per-id record counts")
	}
	if m.NumRecords(32) != 0 {
		t.Fatalf("expected id 32 to be empty")
	}
	if m.NumNonEmpty() != 3 {
		t.Fatalf("NumNonEmpty() = %d, want 3", m.NumNonEmpty())
	}
}

func TestMapToNonEmptyIsDeterministicAndStable(t *testing.T) {
	m, err := New(1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m.Add(34, 2, 20)
	m.Add(33, 1, 10)
	m.Add(47, 5, 50)
	if err := m.MakeQueryable(); err != nil {
		t.Fatalf("MakeQueryable failed: %v", err)
	}
	// mapping a non-empty id returns itself
	got, err := m.MapToNonEmpty(34)
	if err != nil {
		t.Fatalf("MapToNonEmpty(34) failed: %v", err)
	}
	if got != 34 {
		t.Fatalf("MapToNonEmpty(34) = %d, want 34 (already non-empty)", got)
	}
	// mapping an empty id is deterministic and lands on a non-empty one
	a, err := m.MapToNonEmpty(35)
	if err != nil {
		t.Fatalf("MapToNonEmpty(35) failed: %v", err)
	}
	b, err := m.MapToNonEmpty(35)
	if err != nil {
		t.Fatalf("MapToNonEmpty(35) failed: %v", err)
	}
	if a != b {
		t.Fatalf("MapToNonEmpty not deterministic: %d != %d", a, b)
	}
	nonEmpty := map[uint32]bool{33: true, 34: true, 47: true}
	if !nonEmpty[a] {
		t.Fatalf("MapToNonEmpty(35) = %d, not a non-empty id", a)
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Fatal("expected error for negative level")
	}
	if _, err := New(sphereMaxLevelPlusOne()); err == nil {
		t.Fatal("expected error for level above max")
	}
}

func sphereMaxLevelPlusOne() int {
	return MaxTrianglesLevel + 1
}

func TestMapFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/map.bin"

	m, err := New(1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m.Add(34, 2, 20)
	m.Add(33, 1, 10)
	if err := m.MakeQueryable(); err != nil {
		t.Fatalf("MakeQueryable failed: %v", err)
	}
	if err := WriteMapFile(m, path); err != nil {
		t.Fatalf("WriteMapFile failed: %v", err)
	}
	m2, err := ReadMapFile(path)
	if err != nil {
		t.Fatalf("ReadMapFile failed: %v", err)
	}
	if m2.Level() != m.Level() {
		t.Fatalf("level = %d, want %d", m2.Level(), m.Level())
	}
	if m2.TotalNumRecords() != m.TotalNumRecords() {
		t.Fatalf("TotalNumRecords = %d, want %d", m2.TotalNumRecords(), m.TotalNumRecords())
	}
	if m2.NumRecords(34) != 2 || m2.NumRecords(33) != 1 {
		t.Fatalf("round-tripped per-id counts mismatch")
	}
}
