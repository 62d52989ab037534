package duplicate

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/xufuture/qserv-sub001/chunker"
	"github.com/xufuture/qserv-sub001/popmap"
	"github.com/xufuture/qserv-sub001/sphere"
)

// buildIndex writes a minimal map.bin/ids.bin/data.csv index directory
// from the given (pk, ra, dec) rows, which must already be in
// HTM-sorted (level 0) order.
func buildIndex(t *testing.T, dir string, rows [][3]float64) {
	t.Helper()
	var data bytes.Buffer
	var ids bytes.Buffer
	m, err := popmap.New(0)
	if err != nil {
		t.Fatalf("popmap.New: %v", err)
	}
	type pending struct {
		htmID uint32
		n     uint64
		size  uint64
	}
	var cur *pending
	for _, row := range rows {
		pk, ra, dec := int64(row[0]), row[1], row[2]
		htmID, err := sphere.HtmID(sphere.Cartesian(ra, dec), 0)
		if err != nil {
			t.Fatalf("HtmID: %v", err)
		}
		line := []byte(formatCSVLine(pk, ra, dec))
		data.Write(line)
		var idBuf [8]byte
		binary.LittleEndian.PutUint64(idBuf[:], uint64(pk))
		ids.Write(idBuf[:])
		if cur == nil || cur.htmID != htmID {
			if cur != nil {
				m.Add(cur.htmID, cur.n, cur.size)
			}
			cur = &pending{htmID: htmID}
		}
		cur.n++
		cur.size += uint64(len(line))
	}
	if cur != nil {
		m.Add(cur.htmID, cur.n, cur.size)
	}
	if err := m.MakeQueryable(); err != nil {
		t.Fatalf("MakeQueryable: %v", err)
	}
	if err := popmap.WriteMapFile(m, filepath.Join(dir, "map.bin")); err != nil {
		t.Fatalf("WriteMapFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ids.bin"), ids.Bytes(), 0644); err != nil {
		t.Fatalf("write ids.bin: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), data.Bytes(), 0644); err != nil {
		t.Fatalf("write data.csv: %v", err)
	}
}

func formatCSVLine(pk int64, ra, dec float64) string {
	return itoa(pk) + "," + ftoa(ra) + "," + ftoa(dec) + "\n"
}

func itoa(v int64) string { return string(formatInt(v)) }
func ftoa(v float64) string { return string(formatFloat(v)) }

func TestChunkDuplicatorRoutesEveryRecordExactlyOnce(t *testing.T) {
	// One record interior to each of the 8 level-0 root trixels, in
	// HTM-sorted order (matches TestHtmIDLevel0's fixtures).
	rows := [][3]float64{
		{1, 10, -10},  // S0, id 8
		{2, 100, -10}, // S1, id 9
		{3, 190, -10}, // S2, id 10
		{4, 280, -10}, // S3, id 11
		{5, 280, 10},  // N0, id 12
		{6, 190, 10},  // N1, id 13
		{7, 100, 10},  // N2, id 14
		{8, 10, 10},   // N3, id 15
	}

	indexDir := t.TempDir()
	chunkDir := t.TempDir()
	buildIndex(t, indexDir, rows)

	c, err := chunker.New(0.0, 2, 1)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	chunkIDs := c.ChunksFor(sphere.FullSky(), 0, 1, false)
	if len(chunkIDs) == 0 {
		t.Fatal("ChunksFor returned no chunks")
	}

	opts := Options{
		Fields:                 []string{"id", "ra", "dec"},
		Delimiter:              ',',
		PartitionPos:           [2]int{1, 2},
		PKField:                0,
		ChunkIDField:           -1,
		SubChunkIDField:        -1,
		SecondarySortField:     -1,
		Overlap:                0.0,
		NumStripes:             2,
		NumSubStripesPerStripe: 1,
		HtmLevel:               0,
		IndexDir:               indexDir,
		ChunkDir:               chunkDir,
		Prefix:                 "chunk",
		NumNodes:               1,
		ChunkIDs:               chunkIDs,
		NumThreads:             2,
		BlockSize:              4096,
	}

	dup, err := NewChunkDuplicator(opts)
	if err != nil {
		t.Fatalf("NewChunkDuplicator: %v", err)
	}
	defer dup.Close()

	if err := dup.Duplicate(); err != nil {
		t.Fatalf("Duplicate: %v", err)
	}

	total := 0
	for _, id := range chunkIDs {
		path := filepath.Join(chunkDir, "chunk_"+itoa(int64(id))+".csv")
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields := bytes.Split(scanner.Bytes(), []byte{','})
			if len(fields) != 5 {
				t.Fatalf("%s: line has %d fields, want 5 (id,ra,dec,chunk_id,sub_chunk_id): %q",
					path, len(fields), scanner.Text())
			}
			total++
		}
		f.Close()
	}
	if total != len(rows) {
		t.Fatalf("total output records = %d, want %d", total, len(rows))
	}
}
