// Package geomcmp implements the canonical precision-bounded geometry
// serialization used for both key synthesis and geometry comparison.
// Coordinates are rounded half-away-from-zero to a configured precision
// (default 0.01, one centimetre in BC Albers metres) and encoded as
// little-endian WKB; equality and the shape-difference metric are defined
// over that canonical form so floating-point noise below the precision
// never registers as change.
package geomcmp

import (
	"bytes"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/xy"
)

// DefaultPrecision is the default coordinate rounding precision.
const DefaultPrecision = 0.01

// Round returns a copy of g with every ordinate snapped to the given
// precision, rounding half away from zero. A nil geometry rounds to nil.
func Round(g geom.T, precision float64) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	if precision <= 0 {
		return nil, errors.Newf("precision must be positive, got %v", precision)
	}
	switch g := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(g.Layout(), snap(g.FlatCoords(), precision)), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(g.Layout(), snap(g.FlatCoords(), precision)), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(g.Layout(), snap(g.FlatCoords(), precision)), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(g.Layout(), snap(g.FlatCoords(), precision), g.Ends()), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(g.Layout(), snap(g.FlatCoords(), precision), g.Ends()), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(g.Layout(), snap(g.FlatCoords(), precision), g.Endss()), nil
	case *geom.GeometryCollection:
		ret := geom.NewGeometryCollection()
		for _, sub := range g.Geoms() {
			rounded, err := Round(sub, precision)
			if err != nil {
				return nil, err
			}
			if err := ret.Push(rounded); err != nil {
				return nil, err
			}
		}
		return ret, nil
	}
	return nil, errors.Newf("unsupported geometry type %T", g)
}

func snap(flat []float64, precision float64) []float64 {
	out := make([]float64, len(flat))
	for i, v := range flat {
		out[i] = math.Trunc(v/precision+math.Copysign(0.5, v)) * precision
	}
	return out
}

// CanonicalWKB returns the little-endian WKB encoding of g rounded to the
// given precision. This is the byte form hashed in key synthesis and
// compared for geometry equality.
func CanonicalWKB(g geom.T, precision float64) ([]byte, error) {
	rounded, err := Round(g, precision)
	if err != nil {
		return nil, err
	}
	if rounded == nil {
		return nil, nil
	}
	data, err := wkb.Marshal(rounded, wkb.NDR)
	if err != nil {
		return nil, errors.Wrap(err, "error encoding canonical wkb")
	}
	return data, nil
}

// Equal reports whether two geometries are equal under the precision: their
// canonical WKB forms match byte for byte. Two nil geometries are equal; nil
// never equals non-nil.
func Equal(a, b geom.T, precision float64) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	aw, err := CanonicalWKB(a, precision)
	if err != nil {
		return false, err
	}
	bw, err := CanonicalWKB(b, precision)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aw, bw), nil
}

// DiffMetric returns the shape-difference metric between two geometries:
// the discrete symmetric Hausdorff distance between their rounded
// coordinate sets, floored at one precision quantum whenever the canonical
// forms differ. The metric is monotonic in coordinate displacement and zero
// if and only if Equal holds. Appearing or disappearing geometry scores at
// least one quantum.
func DiffMetric(a, b geom.T, precision float64) (float64, error) {
	eq, err := Equal(a, b, precision)
	if err != nil {
		return 0, err
	}
	if eq {
		return 0, nil
	}
	ac, err := roundedCoords(a, precision)
	if err != nil {
		return 0, err
	}
	bc, err := roundedCoords(b, precision)
	if err != nil {
		return 0, err
	}
	if len(ac) == 0 || len(bc) == 0 {
		return precision, nil
	}
	d := math.Max(directedHausdorff(ac, bc), directedHausdorff(bc, ac))
	if d < precision {
		// Same point sets in a different structure still count as one
		// quantum of change.
		d = precision
	}
	return d, nil
}

func roundedCoords(g geom.T, precision float64) ([]geom.Coord, error) {
	if g == nil {
		return nil, nil
	}
	rounded, err := Round(g, precision)
	if err != nil {
		return nil, err
	}
	return flatToCoords(rounded), nil
}

func flatToCoords(g geom.T) []geom.Coord {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		var coords []geom.Coord
		for _, sub := range gc.Geoms() {
			coords = append(coords, flatToCoords(sub)...)
		}
		return coords
	}
	flat := g.FlatCoords()
	stride := g.Stride()
	if stride == 0 {
		return nil
	}
	coords := make([]geom.Coord, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		coords = append(coords, geom.Coord{flat[i], flat[i+1]})
	}
	return coords
}

// directedHausdorff is max over a in as of min over b in bs of dist(a, b).
// Quadratic in the coordinate counts, which is acceptable at feature scale.
func directedHausdorff(as, bs []geom.Coord) float64 {
	var ret float64
	for _, a := range as {
		closest := math.Inf(1)
		for _, b := range bs {
			if d := xy.Distance(a, b); d < closest {
				closest = d
			}
		}
		if closest > ret {
			ret = closest
		}
	}
	return ret
}
