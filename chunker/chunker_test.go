package chunker

import (
	"testing"

	"github.com/xufuture/qserv-sub001/sphere"
)

func TestNewRejectsBadParams(t *testing.T) {
	if _, err := New(0.01, 0, 1); err == nil {
		t.Error("expected error for numStripes=0")
	}
	if _, err := New(0.01, 1, 0); err == nil {
		t.Error("expected error for numSubStripesPerStripe=0")
	}
	if _, err := New(20, 1, 1); err == nil {
		t.Error("expected error for overlap > 10 deg")
	}
}

func TestChunkBoundsCoverSphere(t *testing.T) {
	c, err := New(0.01667, 18, 3)
	if err != nil {
		t.Fatal(err)
	}
	var totalRa float64
	stripes := int32(18)
	for stripe := int32(0); stripe < stripes; stripe++ {
		nChunks := c.numChunksPerStripe[stripe]
		var stripeRa float64
		for chunk := int32(0); chunk < nChunks; chunk++ {
			chunkID := c.getChunkID(stripe, chunk)
			b := c.ChunkBounds(chunkID)
			if b.DecMin < -90.0 || b.DecMax > 90.0 {
				t.Fatalf("chunk %d bounds out of range: %+v", chunkID, b)
			}
			stripeRa += b.RaExtent()
		}
		if stripeRa < 359.9 || stripeRa > 360.1 {
			t.Errorf("stripe %d chunk ra extents sum to %v, want ~360", stripe, stripeRa)
		}
		totalRa += stripeRa
	}
}

func TestLocatePrimaryChunkContainsPosition(t *testing.T) {
	c, err := New(0.01667, 18, 3)
	if err != nil {
		t.Fatal(err)
	}
	ra, dec := 123.456, -17.25
	locs := c.Locate(ra, dec, -1, nil)
	if len(locs) == 0 {
		t.Fatal("expected at least one location")
	}
	var sawChunk bool
	for _, l := range locs {
		if l.Kind == Chunk {
			sawChunk = true
			bounds := c.SubChunkBounds(l.ChunkID, l.SubChunkID)
			if !bounds.Contains(ra, dec) {
				t.Errorf("primary sub-chunk bounds %+v do not contain (%v, %v)", bounds, ra, dec)
			}
		}
	}
	if !sawChunk {
		t.Error("Locate did not report a primary CHUNK location")
	}
}

func TestLocateFilterByChunkID(t *testing.T) {
	c, err := New(0.01667, 18, 3)
	if err != nil {
		t.Fatal(err)
	}
	ra, dec := 10.0, 5.0
	all := c.Locate(ra, dec, -1, nil)
	var primary int32 = -1
	for _, l := range all {
		if l.Kind == Chunk {
			primary = l.ChunkID
		}
	}
	filtered := c.Locate(ra, dec, primary, nil)
	for _, l := range filtered {
		if l.ChunkID != primary {
			t.Errorf("Locate with chunkFilter=%d returned location for chunk %d", primary, l.ChunkID)
		}
	}
}

func TestChunksForRoundRobinCoversAllNodes(t *testing.T) {
	c, err := New(0.01667, 6, 2)
	if err != nil {
		t.Fatal(err)
	}
	const numNodes = 4
	seen := make(map[int32]uint32)
	full := c.ChunksFor(sphere.FullSky(), 0, numNodes, false)
	for _, id := range full {
		seen[id] = 0
	}
	for node := uint32(1); node < numNodes; node++ {
		for _, id := range c.ChunksFor(sphere.FullSky(), node, numNodes, false) {
			if _, ok := seen[id]; ok {
				t.Errorf("chunk %d assigned to more than one node", id)
			}
			seen[id] = node
		}
	}
}
