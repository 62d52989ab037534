package sphere

import "math"

// OverlappingTrixels returns a conservative list of the HTM ids at the
// given level whose trixel may intersect box: it is the set the
// duplicator seeds its per-chunk work queue with, and is safe for a
// caller to additionally filter with an exact per-record test. The 8
// root triangles are recursively subdivided, and a subtree is pruned as
// soon as a cheap vertex-derived bounding box of the triangle stops
// intersecting box; it is never pruned based on an exact spherical
// containment test, so it can only over-report, never under-report.
func OverlappingTrixels(box Box, level int) []uint32 {
	if level < 0 || level > MaxLevel {
		return nil
	}
	var ids []uint32
	for root := uint32(0); root < 8; root++ {
		v0, v1, v2 := rootVertex[root][0], rootVertex[root][1], rootVertex[root][2]
		findTrixels(root+8, level, v0, v1, v2, box, &ids)
	}
	return ids
}

func findTrixels(id uint32, level int, v0, v1, v2 Vec3, box Box, ids *[]uint32) {
	if !triangleBounds(v0, v1, v2).Intersects(box) {
		return
	}
	if level == 0 {
		*ids = append(*ids, id)
		return
	}
	sv0 := v1.add(v2).normalized()
	sv1 := v2.add(v0).normalized()
	sv2 := v0.add(v1).normalized()
	findTrixels(id<<2, level-1, v0, sv2, sv1, box, ids)
	findTrixels((id<<2)+1, level-1, v1, sv0, sv2, box, ids)
	findTrixels((id<<2)+2, level-1, v2, sv1, sv0, box, ids)
	findTrixels((id<<2)+3, level-1, sv0, sv1, sv2, box, ids)
}

// triangleBounds returns a conservative ra/dec bounding box for the
// triangle with the given cartesian vertices. Near a pole, or when the
// vertices straddle the 0/360 discontinuity widely enough that their
// raw ra values disagree by more than 180deg, it falls back to the full
// right ascension range rather than risk excluding a legitimate match.
func triangleBounds(v0, v1, v2 Vec3) Box {
	ra0, dec0 := Spherical(v0)
	ra1, dec1 := Spherical(v1)
	ra2, dec2 := Spherical(v2)
	decMin := math.Min(dec0, math.Min(dec1, dec2))
	decMax := math.Max(dec0, math.Max(dec1, dec2))
	// Edges are great-circle arcs, which can reach past the declinations
	// of their endpoints. Every point of the triangle lies within one
	// longest-edge length of each vertex, so pad by that length.
	pad := DegPerRad * math.Acos(math.Min(1.0, math.Min(v0.dot(v1), math.Min(v1.dot(v2), v2.dot(v0)))))
	decMin = math.Max(decMin-pad, -90.0)
	decMax = math.Min(decMax+pad, 90.0)
	raMin := math.Min(ra0, math.Min(ra1, ra2))
	raMax := math.Max(ra0, math.Max(ra1, ra2))
	if raMax-raMin > 180.0 || decMax > 89.0 || decMin < -89.0 {
		return Box{0.0, 360.0, decMin, decMax}
	}
	return Box{raMin, raMax, decMin, decMax}
}
