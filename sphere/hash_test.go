package sphere

import "testing"

func TestMulveyHashDeterministic(t *testing.T) {
	for _, x := range []uint32{0, 1, 42, 1000000, 0xFFFFFFFF} {
		if MulveyHash(x) != MulveyHash(x) {
			t.Fatalf("MulveyHash(%d) is not deterministic", x)
		}
	}
}

func TestMulveyHashSpreadsNearbyInputs(t *testing.T) {
	// consecutive integers should not hash to equal outputs; this is the property the non-empty trixel mapping and
	// node-assignment policies depend on for load balancing.
	seen := make(map[uint32]bool)
	for x := uint32(0); x < 16; x++ {
		h := MulveyHash(x)
		if seen[h] {
			t.Fatalf("MulveyHash produced a collision among inputs [0,16): %d", h)
		}
		seen[h] = true
	}
}
