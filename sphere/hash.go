package sphere

// MulveyHash is Brett Mulvey's 32-bit integer hash mix.
// See http://home.comcast.net/~bretm/hash/4.html
//
// It is the single hash function used throughout this module wherever a
// deterministic, load-balanced assignment from an integer id to a
// bounded range is needed: mapping an empty trixel to a non-empty one,
// and assigning a chunk id to a worker node.
func MulveyHash(x uint32) uint32 {
	x += x << 16
	x ^= x >> 13
	x += x << 4
	x ^= x >> 7
	x += x << 10
	x ^= x >> 5
	x += x << 8
	x ^= x >> 16
	return x
}
