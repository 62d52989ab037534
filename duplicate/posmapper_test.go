package duplicate

import (
	"math"
	"testing"
)

func TestPosMapperIdentityWhenSourceEqualsDestination(t *testing.T) {
	const htmID = 15 // N3, level 0
	pm, err := NewPosMapper(htmID, htmID)
	if err != nil {
		t.Fatalf("NewPosMapper: %v", err)
	}
	ra, dec := pm.Map(10.0, 20.0)
	if math.Abs(ra-10.0) > 1e-9 || math.Abs(dec-20.0) > 1e-9 {
		t.Fatalf("identity PosMapper: got (%v, %v), want (10, 20)", ra, dec)
	}
}

func TestPosMapperMapsBetweenDistinctTrixels(t *testing.T) {
	// N3 (15) and N2 (14) are both level-0 root trixels sharing the
	// north pole vertex; a point strictly inside N3 should map to a
	// point strictly inside N2's angular footprint (roughly ra in
	// (90,180) for dec > 0) rather than staying put.
	pm, err := NewPosMapper(15, 14)
	if err != nil {
		t.Fatalf("NewPosMapper: %v", err)
	}
	ra, dec := pm.Map(10.0, 10.0)
	if ra == 10.0 && dec == 10.0 {
		t.Fatalf("mapping between distinct trixels returned an unchanged position")
	}
	if dec <= 0 {
		t.Fatalf("mapped position dec = %v, want > 0 (still in the northern hemisphere)", dec)
	}
}
