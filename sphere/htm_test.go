package sphere

import (
	"math"
	"testing"
)

func TestHtmIDLevel0(t *testing.T) {
	cases := []struct {
		ra, dec float64
		want    uint32
	}{
		{10, -10, 8},   // S0
		{100, -10, 9},  // S1
		{190, -10, 10}, // S2
		{280, -10, 11}, // S3
		{10, 10, 15},  // N3
		{100, 10, 14}, // N2
		{190, 10, 13}, // N1
		{280, 10, 12}, // N0
	}
	for _, c := range cases {
		v := Cartesian(c.ra, c.dec)
		id, err := HtmID(v, 0)
		if err != nil {
			t.Fatalf("HtmID(%v,%v,0): %v", c.ra, c.dec, err)
		}
		if id != c.want {
			t.Errorf("HtmID(ra=%v,dec=%v,0) = %d, want %d", c.ra, c.dec, id, c.want)
		}
	}
}

func TestHtmIDInvalidLevel(t *testing.T) {
	if _, err := HtmID(Cartesian(0, 0), -1); err == nil {
		t.Error("expected error for negative level")
	}
	if _, err := HtmID(Cartesian(0, 0), MaxLevel+1); err == nil {
		t.Error("expected error for level beyond MaxLevel")
	}
}

func TestHtmLevelRoundTrip(t *testing.T) {
	for level := 0; level <= MaxLevel; level++ {
		v := Cartesian(float64(level)*13.0, float64(level)*3.0-30.0)
		id, err := HtmID(v, level)
		if err != nil {
			t.Fatalf("HtmID level %d: %v", level, err)
		}
		if got := HtmLevel(id); got != level {
			t.Errorf("HtmLevel(%d) = %d, want %d", id, got, level)
		}
	}
}

func TestHtmLevelInvalidID(t *testing.T) {
	for _, id := range []uint32{0, 1, 7, 16, 0xFFFFFFFF} {
		if got := HtmLevel(id); got != -1 {
			t.Errorf("HtmLevel(%d) = %d, want -1", id, got)
		}
	}
}

func TestCartesianSphericalRoundTrip(t *testing.T) {
	cases := []struct{ ra, dec float64 }{
		{0, 0}, {90, 45}, {180, -45}, {270, 89}, {45, -89}, {359, 0},
	}
	for _, c := range cases {
		v := Cartesian(c.ra, c.dec)
		ra, dec := Spherical(v)
		if math.Abs(ra-c.ra) > 1e-9 || math.Abs(dec-c.dec) > 1e-9 {
			t.Errorf("round trip (ra=%v,dec=%v): got (ra=%v,dec=%v)", c.ra, c.dec, ra, dec)
		}
	}
}

func TestTrixelContainsItsOwnVertexBarycentric(t *testing.T) {
	id, err := HtmID(Cartesian(30, 30), 4)
	if err != nil {
		t.Fatal(err)
	}
	tri, err := NewTrixel(id)
	if err != nil {
		t.Fatal(err)
	}
	// each vertex's barycentric coordinates should be a unit basis vector
	for i := 0; i < 3; i++ {
		b := tri.Barycentric(tri.Vertex(i))
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(b[j]-want) > 1e-9 {
				t.Errorf("vertex %d barycentric[%d] = %v, want %v", i, j, b[j], want)
			}
		}
	}
}

func TestTrixelInvalidID(t *testing.T) {
	if _, err := NewTrixel(0); err == nil {
		t.Error("expected error for invalid HTM id")
	}
}

func TestTransformIdentity(t *testing.T) {
	id, err := HtmID(Cartesian(12, -12), 3)
	if err != nil {
		t.Fatal(err)
	}
	tri, err := NewTrixel(id)
	if err != nil {
		t.Fatal(err)
	}
	m := Transform(tri, tri)
	p := Cartesian(12.001, -12.001)
	out := ApplyTransform(m, p)
	if math.Abs(out[0]-p.normalized()[0]) > 1e-9 ||
		math.Abs(out[1]-p.normalized()[1]) > 1e-9 ||
		math.Abs(out[2]-p.normalized()[2]) > 1e-9 {
		t.Errorf("self-transform should be identity: got %v, want %v", out, p.normalized())
	}
}
