package duplicate

import "github.com/xufuture/qserv-sub001/sphere"

// PosMapper maps cartesian positions in a populated ("source") HTM
// trixel to the corresponding position in an empty ("destination")
// trixel, via the combined linear transform dst.CartesianTransform *
// src.BarycentricTransform (sphere.Transform).
type PosMapper struct {
	m sphere.Matrix3
}

// NewPosMapper builds the PosMapper taking positions in sourceHtmID to
// destHtmID.
func NewPosMapper(sourceHtmID, destHtmID uint32) (PosMapper, error) {
	src, err := sphere.NewTrixel(sourceHtmID)
	if err != nil {
		return PosMapper{}, err
	}
	dst, err := sphere.NewTrixel(destHtmID)
	if err != nil {
		return PosMapper{}, err
	}
	return PosMapper{m: sphere.Transform(src, dst)}, nil
}

// Map transforms the spherical position (ra, dec) through the trixel
// mapping, returning the corresponding position in the destination
// trixel.
func (p PosMapper) Map(ra, dec float64) (float64, float64) {
	v := sphere.ApplyTransform(p.m, sphere.Cartesian(ra, dec))
	return sphere.Spherical(v)
}
