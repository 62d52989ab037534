package duplicate

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/xufuture/qserv-sub001/popmap"
	"github.com/xufuture/qserv-sub001/recio"
)

func buildKeyInfo(t *testing.T, htmID uint32, ids []int64) KeyInfo {
	t.Helper()
	dir := t.TempDir()

	m, err := popmap.New(0)
	if err != nil {
		t.Fatalf("popmap.New: %v", err)
	}
	m.Add(htmID, uint64(len(ids)), uint64(len(ids)*10))
	if err := m.MakeQueryable(); err != nil {
		t.Fatalf("MakeQueryable: %v", err)
	}

	idsPath := filepath.Join(dir, "ids.bin")
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(id))
	}
	if err := os.WriteFile(idsPath, buf, 0644); err != nil {
		t.Fatalf("write ids.bin: %v", err)
	}
	f, err := recio.OpenMappedFile(idsPath)
	if err != nil {
		t.Fatalf("OpenMappedFile: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	return KeyInfo{Map: m, File: f, FieldIndex: 0}
}

func TestKeyMapperMapsKnownKeyToRankBasedDestination(t *testing.T) {
	key := buildKeyInfo(t, 10, []int64{100, 200, 300})
	km, err := NewKeyMapper(key, 10, 20)
	if err != nil {
		t.Fatalf("NewKeyMapper: %v", err)
	}
	if km.FieldIndex() != 0 {
		t.Fatalf("FieldIndex() = %d, want 0", km.FieldIndex())
	}
	got, err := km.Map(200)
	if err != nil {
		t.Fatalf("Map(200): %v", err)
	}
	want := int64(20)<<32 + 1
	if got != want {
		t.Fatalf("Map(200) = %d, want %d", got, want)
	}
	got0, err := km.Map(100)
	if err != nil || got0 != int64(20)<<32 {
		t.Fatalf("Map(100) = %d, err=%v, want %d", got0, err, int64(20)<<32)
	}
}

func TestKeyMapperRejectsUnknownKey(t *testing.T) {
	key := buildKeyInfo(t, 10, []int64{100, 200, 300})
	km, err := NewKeyMapper(key, 10, 20)
	if err != nil {
		t.Fatalf("NewKeyMapper: %v", err)
	}
	if _, err := km.Map(999); err == nil {
		t.Fatal("expected error mapping a key absent from the source trixel")
	}
}

func TestKeyMapperDestinationKeysDisjointAcrossTrixels(t *testing.T) {
	key := buildKeyInfo(t, 10, []int64{100, 200})
	kmA, err := NewKeyMapper(key, 10, 20)
	if err != nil {
		t.Fatalf("NewKeyMapper: %v", err)
	}
	kmB, err := NewKeyMapper(key, 10, 21)
	if err != nil {
		t.Fatalf("NewKeyMapper: %v", err)
	}
	a, _ := kmA.Map(100)
	b, _ := kmB.Map(100)
	if a == b {
		t.Fatalf("keys mapped to different destination trixels collided: %d", a)
	}
}
