package sphere

import "math"

// Box is a spherical coordinate space bounding box. Unlike a cartesian
// bounding box, a Box may correspond to the entire unit sphere, a
// spherical cap, a lune, or a traditional ra/dec rectangle, and it may
// wrap the 0/360 degree longitude discontinuity (RaMin > RaMax).
type Box struct {
	RaMin, RaMax   float64
	DecMin, DecMax float64
}

// FullSky returns the box covering the entire unit sphere.
func FullSky() Box { return Box{0.0, 360.0, -90.0, 90.0} }

// NewBox constructs a box from explicit bounds.
func NewBox(raMin, raMax, decMin, decMax float64) Box {
	return Box{RaMin: raMin, RaMax: raMax, DecMin: decMin, DecMax: decMax}
}

// IsEmpty reports whether the box contains no points.
func (b Box) IsEmpty() bool { return b.DecMax < b.DecMin }

// IsFull reports whether the box covers the entire sphere.
func (b Box) IsFull() bool {
	return b.DecMin == -90.0 && b.DecMax == 90.0 && b.RaMin == 0.0 && b.RaMax == 360.0
}

// Wraps reports whether the box wraps the 0/360 right ascension
// discontinuity.
func (b Box) Wraps() bool { return b.RaMax < b.RaMin }

// RaExtent returns the extent in right ascension of the box.
func (b Box) RaExtent() float64 {
	if b.Wraps() {
		return 360.0 - b.RaMin + b.RaMax
	}
	return b.RaMax - b.RaMin
}

// Contains reports whether the box contains the given spherical
// coordinates.
func (b Box) Contains(ra, dec float64) bool {
	if dec < b.DecMin || dec > b.DecMax {
		return false
	}
	if b.Wraps() {
		return ra >= b.RaMin || ra <= b.RaMax
	}
	return ra >= b.RaMin && ra <= b.RaMax
}

// Intersects reports whether b intersects other.
func (b Box) Intersects(other Box) bool {
	switch {
	case other.IsEmpty():
		return false
	case other.DecMin > b.DecMax || other.DecMax < b.DecMin:
		return false
	case b.Wraps():
		if other.Wraps() {
			return true
		}
		return other.RaMin <= b.RaMax || other.RaMax >= b.RaMin
	case other.Wraps():
		return b.RaMin <= other.RaMax || b.RaMax >= other.RaMin
	default:
		return b.RaMin <= other.RaMax && b.RaMax >= other.RaMin
	}
}

// MinDeltaRa returns the minimum angular delta between two right
// ascensions, accounting for the 0/360 wraparound.
func MinDeltaRa(ra1, ra2 float64) float64 {
	delta := math.Abs(ra1 - ra2)
	return math.Min(delta, 360.0-delta)
}

// MaxAlpha computes the extent in longitude [-alpha, alpha] of the
// circle with radius r and center (0, centerDec) on the unit sphere.
// Both r and centerDec are in degrees; centerDec is clamped to
// [-90, 90] and r must lie in [0, 90].
func MaxAlpha(r, centerDec float64) float64 {
	if r < 0.0 || r > 90.0 {
		panic("sphere: radius must lie in range [0, 90] deg")
	}
	if r == 0.0 {
		return 0.0
	}
	d := clampDec(centerDec)
	if math.Abs(d)+r > 90.0-1/3600.0 {
		return 180.0
	}
	rr := r * RadPerDeg
	dd := d * RadPerDeg
	yv := math.Sin(rr)
	xv := math.Sqrt(math.Abs(math.Cos(dd-rr) * math.Cos(dd+rr)))
	return DegPerRad * math.Abs(math.Atan(yv/xv))
}

// NumSegments computes the number of segments to divide the declination
// range [decMin, decMax] into, such that two points in the range
// separated by at least one segment are guaranteed to be separated by
// an angular distance of at least width degrees.
func NumSegments(decMin, decMax, width float64) int {
	dec := math.Max(math.Abs(decMin), math.Abs(decMax))
	if dec > 90.0-1/3600.0 {
		return 1
	}
	if width >= 180.0 {
		return 1
	} else if width < 1.0/3600.0 {
		width = 1.0 / 3600.0
	}
	dec *= RadPerDeg
	cw := math.Cos(width * RadPerDeg)
	sd := math.Sin(dec)
	cd := math.Cos(dec)
	xv := cw - sd*sd
	u := cd * cd
	yv := math.Sqrt(math.Abs(u*u - xv*xv))
	return int(math.Floor(360.0 / math.Abs(DegPerRad*math.Atan2(yv, xv))))
}

// SegmentWidth returns the angular width of a single segment obtained
// by chopping the declination stripe [decMin, decMax] into numSegments
// equal-width (in right ascension) segments.
func SegmentWidth(decMin, decMax float64, segs int) float64 {
	dec := math.Max(math.Abs(decMin), math.Abs(decMax)) * RadPerDeg
	cw := math.Cos(RadPerDeg * (360.0 / float64(segs)))
	sd := math.Sin(dec)
	cd := math.Cos(dec)
	return math.Acos(cw*cd*cd+sd*sd) * DegPerRad
}

// Expand grows b by deg degrees of angular margin: decMin/decMax move
// outward by deg (clamped to the poles), and raMin/raMax move outward
// by the longitude margin MaxAlpha(deg, ·) needed to keep the box
// conservative at the resulting declination extremes. A box that grows
// to cover a pole, or whose required longitude margin reaches 180deg,
// degenerates to the full right ascension range.
func (b Box) Expand(deg float64) Box {
	if deg <= 0.0 || b.IsFull() {
		return b
	}
	decMin := b.DecMin - deg
	decMax := b.DecMax + deg
	if decMin < -90.0 {
		decMin = -90.0
	}
	if decMax > 90.0 {
		decMax = 90.0
	}
	centerDec := math.Max(math.Abs(decMin), math.Abs(decMax))
	alpha := MaxAlpha(deg, centerDec)
	if alpha >= 180.0 || (decMin <= -90.0 && decMax >= 90.0) {
		return Box{0.0, 360.0, decMin, decMax}
	}
	raMin := ReduceRa(b.RaMin - alpha)
	raMax := ReduceRa(b.RaMax + alpha)
	if raMax == 0.0 {
		raMax = 360.0
	}
	return Box{raMin, raMax, decMin, decMax}
}

// ClampRa clamps a longitude angle for partition bound computation: any
// input angle within EpsilonDeg of 360.0 is snapped to exactly 360.0.
// This matters because partition bounds are computed by multiplying a
// sub-chunk width by a sub-chunk number, so the last sub-chunk in a
// sub-stripe can have a maximum longitude angle very slightly below
// 360.0 due to floating point error.
func ClampRa(ra float64) float64 {
	if ra >= 360.0 || 360.0-ra < EpsilonDeg {
		return 360.0
	}
	return ra
}

// ReduceRa wraps ra into [0, 360).
func ReduceRa(ra float64) float64 {
	ra = math.Mod(ra, 360.0)
	if ra < 0 {
		ra += 360.0
	}
	return ra
}
