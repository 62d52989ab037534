// Package chunker implements the Qserv partitioning scheme: the unit
// sphere is divided into fixed-height declination stripes, each stripe
// into a stripe-dependent number of right-ascension chunks, and each
// chunk into fixed-height sub-stripes further divided into sub-chunks.
// The number of chunks per stripe (and sub-chunks per sub-stripe) varies
// to compensate for the convergence of meridians toward the poles.
package chunker

import (
	"fmt"

	"github.com/xufuture/qserv-sub001/sphere"
)

// Overlap classifies a Location.
type Overlap int

const (
	// Chunk is a primary, non-overlap location.
	Chunk Overlap = iota
	// SelfOverlap is an overlap location that also falls in the full-
	// overlap stream (it lies within the overlap radius of the point's
	// own sub-chunk boundary).
	SelfOverlap
	// FullOverlap is an overlap location in a neighboring sub-chunk.
	FullOverlap
)

func (o Overlap) String() string {
	switch o {
	case Chunk:
		return "CHUNK"
	case SelfOverlap:
		return "SELF_OVERLAP"
	case FullOverlap:
		return "FULL_OVERLAP"
	default:
		return "UNKNOWN"
	}
}

// Location is a chunk/sub-chunk assignment produced for a position.
type Location struct {
	ChunkID    int32
	SubChunkID int32
	Kind       Overlap
}

// Chunker assigns sky positions to chunks and sub-chunks, and chunks to
// worker nodes.
type Chunker struct {
	overlap                float64
	subStripeHeight        float64
	numStripes             int32
	numSubStripesPerStripe int32
	maxSubChunksPerChunk   int32
	numChunksPerStripe     []int32   // indexed by stripe
	numSubChunksPerChunk   []int32   // indexed by sub-stripe
	subChunkWidth          []float64 // indexed by sub-stripe
	alpha                  []float64 // indexed by sub-stripe
}

// New builds a Chunker for the given overlap radius (degrees), number
// of declination stripes, and number of sub-stripes per stripe.
func New(overlapDeg float64, numStripes, numSubStripesPerStripe int32) (*Chunker, error) {
	if numStripes < 1 {
		return nil, fmt.Errorf("chunker: numStripes must be >= 1")
	}
	if numSubStripesPerStripe < 1 {
		return nil, fmt.Errorf("chunker: numSubStripesPerStripe must be >= 1")
	}
	if overlapDeg < 0 || overlapDeg > 10.0 {
		return nil, fmt.Errorf("chunker: overlap must lie in [0, 10] deg")
	}
	c := &Chunker{
		overlap:                overlapDeg,
		numStripes:             numStripes,
		numSubStripesPerStripe: numSubStripesPerStripe,
		subStripeHeight:        180.0 / float64(numStripes*numSubStripesPerStripe),
	}
	numSubStripes := numStripes * numSubStripesPerStripe
	c.numChunksPerStripe = make([]int32, numStripes)
	c.numSubChunksPerChunk = make([]int32, numSubStripes)
	c.subChunkWidth = make([]float64, numSubStripes)
	c.alpha = make([]float64, numSubStripes)

	stripeHeight := 180.0 / float64(numStripes)
	for stripe := int32(0); stripe < numStripes; stripe++ {
		decMin := -90.0 + float64(stripe)*stripeHeight
		decMax := decMin + stripeHeight
		n := sphere.NumSegments(decMin, decMax, stripeHeight)
		if n < 1 {
			n = 1
		}
		c.numChunksPerStripe[stripe] = int32(n)
	}
	for ss := int32(0); ss < numSubStripes; ss++ {
		decMin := -90.0 + float64(ss)*c.subStripeHeight
		decMax := decMin + c.subStripeHeight
		stripe := ss / numSubStripesPerStripe
		chunkWidth := 360.0 / float64(c.numChunksPerStripe[stripe])
		n := sphere.NumSegments(decMin, decMax, chunkWidth/float64(numSubStripesPerStripe))
		if n < 1 {
			n = 1
		}
		c.numSubChunksPerChunk[ss] = int32(n)
		c.subChunkWidth[ss] = chunkWidth / float64(n)
		centerDec := decMin
		if abs(decMax) > abs(decMin) {
			centerDec = decMax
		}
		a := sphere.MaxAlpha(overlapDeg, centerDec)
		if a > c.subChunkWidth[ss] {
			// Invariant from Geometry.h: alpha is guaranteed smaller
			// than the sub-chunk width, so an overlap region never
			// spans more than one neighboring sub-chunk per side.
			a = c.subChunkWidth[ss]
		}
		c.alpha[ss] = a
		if int32(n) > c.maxSubChunksPerChunk {
			c.maxSubChunksPerChunk = int32(n)
		}
	}
	return c, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Overlap returns the configured overlap radius in degrees.
func (c *Chunker) Overlap() float64 { return c.overlap }

func (c *Chunker) getStripe(chunkID int32) int32 { return chunkID / (2 * c.numStripes) }

func (c *Chunker) getChunk(chunkID, stripe int32) int32 {
	return chunkID - stripe*2*c.numStripes
}

func (c *Chunker) getChunkID(stripe, chunk int32) int32 {
	return stripe*2*c.numStripes + chunk
}

func (c *Chunker) getSubStripe(subChunkID, stripe int32) int32 {
	return stripe*c.numSubStripesPerStripe + subChunkID/c.maxSubChunksPerChunk
}

func (c *Chunker) getSubChunk(subChunkID, stripe, subStripe, chunk int32) int32 {
	return subChunkID -
		(subStripe-stripe*c.numSubStripesPerStripe)*c.maxSubChunksPerChunk +
		chunk*c.numSubChunksPerChunk[subStripe]
}

// getSubChunkID takes subChunk as an index local to chunk, in
// [0, numSubChunksPerChunk[subStripe]).
func (c *Chunker) getSubChunkID(stripe, subStripe, chunk, subChunk int32) int32 {
	return (subStripe-stripe*c.numSubStripesPerStripe)*c.maxSubChunksPerChunk + subChunk
}

// ChunkBounds returns a bounding box for the given chunk.
func (c *Chunker) ChunkBounds(chunkID int32) sphere.Box {
	stripe := c.getStripe(chunkID)
	chunk := c.getChunk(chunkID, stripe)
	stripeHeight := 180.0 / float64(c.numStripes)
	decMin := -90.0 + float64(stripe)*stripeHeight
	decMax := decMin + stripeHeight
	chunkWidth := 360.0 / float64(c.numChunksPerStripe[stripe])
	raMin := sphere.ReduceRa(float64(chunk) * chunkWidth)
	raMax := sphere.ClampRa(raMin + chunkWidth)
	return sphere.NewBox(raMin, raMax, decMin, decMax)
}

// SubChunkBounds returns a bounding box for the given sub-chunk.
func (c *Chunker) SubChunkBounds(chunkID, subChunkID int32) sphere.Box {
	stripe := c.getStripe(chunkID)
	chunk := c.getChunk(chunkID, stripe)
	subStripe := c.getSubStripe(subChunkID, stripe)
	subChunk := c.getSubChunk(subChunkID, stripe, subStripe, chunk)
	decMin := -90.0 + float64(subStripe)*c.subStripeHeight
	decMax := decMin + c.subStripeHeight
	width := c.subChunkWidth[subStripe]
	raMin := sphere.ReduceRa(float64(subChunk) * width)
	raMax := sphere.ClampRa(raMin + width)
	return sphere.NewBox(raMin, raMax, decMin, decMax)
}

// Locate appends all chunk locations of the given position to
// locations. If chunkFilter is non-negative, only locations with that
// chunk ID are appended; otherwise every location is appended. The
// primary sub-chunk containing the position is always reported as
// Chunk; additionally, every neighboring sub-chunk within the
// configured overlap radius of the position is reported as either
// SelfOverlap (same chunk) or FullOverlap (different chunk).
func (c *Chunker) Locate(ra, dec float64, chunkFilter int32, locations []Location) []Location {
	dec = clampDecLocal(dec)
	stripeHeight := 180.0 / float64(c.numStripes)
	stripe := int32((dec + 90.0) / stripeHeight)
	if stripe >= c.numStripes {
		stripe = c.numStripes - 1
	}
	subStripe := int32((dec + 90.0) / c.subStripeHeight)
	if subStripe >= c.numStripes*c.numSubStripesPerStripe {
		subStripe = c.numStripes*c.numSubStripesPerStripe - 1
	}
	chunkWidth := 360.0 / float64(c.numChunksPerStripe[stripe])
	raw := sphere.ReduceRa(ra)
	chunk := int32(raw / chunkWidth)
	if chunk >= c.numChunksPerStripe[stripe] {
		chunk = c.numChunksPerStripe[stripe] - 1
	}
	width := c.subChunkWidth[subStripe]
	localSubStripe := subStripe - stripe*c.numSubStripesPerStripe
	subRaw := raw - float64(chunk)*chunkWidth
	subChunk := int32(subRaw / width)
	if subChunk >= c.numSubChunksPerChunk[subStripe] {
		subChunk = c.numSubChunksPerChunk[subStripe] - 1
	}

	chunkID := c.getChunkID(stripe, chunk)
	subChunkID := c.getSubChunkID(stripe, subStripe, chunk, subChunk)

	add := func(cid, scid int32, kind Overlap) []Location {
		if chunkFilter >= 0 && chunkFilter != cid {
			return locations
		}
		return append(locations, Location{ChunkID: cid, SubChunkID: scid, Kind: kind})
	}
	locations = add(chunkID, subChunkID, Chunk)

	a := c.alpha[subStripe]
	if a <= 0 {
		return locations
	}
	// Left/right neighbors within this sub-stripe.
	locations = c.neighborOverlap(ra, chunkID, chunkFilter, stripe, subStripe, localSubStripe,
		chunk, subChunk, width, a, locations)
	// Up/down neighbors in the adjacent sub-stripes.
	locations = c.upDownOverlap(ra, chunkID, chunkFilter, stripe, subStripe, locations)
	return locations
}

func clampDecLocal(dec float64) float64 {
	if dec < -90.0 {
		return -90.0
	} else if dec > 90.0 {
		return 90.0
	}
	return dec
}

func (c *Chunker) neighborOverlap(ra float64, chunkID, chunkFilter, stripe, subStripe, localSubStripe,
	chunk, subChunk int32, width, a float64, locations []Location) []Location {
	n := c.numSubChunksPerChunk[subStripe]
	subRaw := sphere.ReduceRa(ra) - float64(chunk)*(360.0/float64(c.numChunksPerStripe[stripe]))
	lo := subRaw - float64(subChunk)*width
	hi := width - lo
	add := func(sc int32, kind Overlap) []Location {
		scID := c.getSubChunkID(stripe, subStripe, chunk, sc)
		cID := chunkID
		if sc < 0 || sc >= n {
			// wraps into the neighboring chunk, which shares the same
			// stripe; the sub-chunk index is adjusted modulo n and the
			// chunk is shifted by one (with wraparound).
			nChunks := c.numChunksPerStripe[stripe]
			nc := chunk
			scMod := sc
			if sc < 0 {
				nc = (chunk - 1 + nChunks) % nChunks
				scMod = n - 1
			} else {
				nc = (chunk + 1) % nChunks
				scMod = 0
			}
			cID = c.getChunkID(stripe, nc)
			scID = c.getSubChunkID(stripe, subStripe, nc, scMod)
		}
		if chunkFilter >= 0 && chunkFilter != cID {
			return locations
		}
		k := kind
		if cID == chunkID {
			k = SelfOverlap
		}
		locations = append(locations, Location{ChunkID: cID, SubChunkID: scID, Kind: k})
		return locations
	}
	if lo < a {
		locations = add(subChunk-1, FullOverlap)
	}
	if hi < a {
		locations = add(subChunk+1, FullOverlap)
	}
	return locations
}

func (c *Chunker) upDownOverlap(ra float64, chunkID, chunkFilter, stripe, subStripe int32, locations []Location) []Location {
	numSubStripes := c.numStripes * c.numSubStripesPerStripe
	for _, neighbor := range []int32{subStripe - 1, subStripe + 1} {
		if neighbor < 0 || neighbor >= numSubStripes {
			continue
		}
		neighborStripe := neighbor / c.numSubStripesPerStripe
		a := c.alpha[neighbor]
		if a <= 0 {
			continue
		}
		width := c.subChunkWidth[neighbor]
		nChunks := c.numChunksPerStripe[neighborStripe]
		chunkWidth := 360.0 / float64(nChunks)
		raw := sphere.ReduceRa(ra)
		for _, offset := range []float64{-a, a} {
			probe := sphere.ReduceRa(raw + offset)
			chunk := int32(probe / chunkWidth)
			if chunk >= nChunks {
				chunk = nChunks - 1
			}
			sub := int32((probe - float64(chunk)*chunkWidth) / width)
			if sub >= c.numSubChunksPerChunk[neighbor] {
				sub = c.numSubChunksPerChunk[neighbor] - 1
			}
			cID := c.getChunkID(neighborStripe, chunk)
			scID := c.getSubChunkID(neighborStripe, neighbor, chunk, sub)
			if chunkFilter >= 0 && chunkFilter != cID {
				continue
			}
			kind := FullOverlap
			if cID == chunkID {
				kind = SelfOverlap
			}
			locations = append(locations, Location{ChunkID: cID, SubChunkID: scID, Kind: kind})
		}
	}
	return locations
}

// ChunksFor returns the IDs of all chunks overlapping region and
// belonging to node (in [0, numNodes)). If hashChunks is true, chunk C
// is assigned to node hash(C) mod numNodes (the Mulvey 32-bit mix);
// otherwise chunks are assigned round-robin in ID order. In hash mode
// the region only decides which chunks are considered; in round-robin
// mode the count runs over the chunks overlapping region only, so the
// region also affects which node each of them is assigned to.
func (c *Chunker) ChunksFor(region sphere.Box, node, numNodes uint32, hashChunks bool) []int32 {
	var out []int32
	next := uint32(0)
	for stripe := int32(0); stripe < c.numStripes; stripe++ {
		stripeHeight := 180.0 / float64(c.numStripes)
		decMin := -90.0 + float64(stripe)*stripeHeight
		decMax := decMin + stripeHeight
		if decMax < region.DecMin || decMin > region.DecMax {
			continue
		}
		nChunks := c.numChunksPerStripe[stripe]
		chunkWidth := 360.0 / float64(nChunks)
		for chunk := int32(0); chunk < nChunks; chunk++ {
			raMin := float64(chunk) * chunkWidth
			raMax := sphere.ClampRa(raMin + chunkWidth)
			box := sphere.NewBox(raMin, raMax, decMin, decMax)
			if !box.Intersects(region) {
				continue
			}
			chunkID := c.getChunkID(stripe, chunk)
			var assigned uint32
			if hashChunks {
				assigned = sphere.MulveyHash(uint32(chunkID)) % numNodes
			} else {
				assigned = next % numNodes
				next++
			}
			if assigned == node {
				out = append(out, chunkID)
			}
		}
	}
	return out
}
