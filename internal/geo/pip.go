package geo

import geojson "github.com/paulmach/go.geojson"

// Bounds is a lon/lat bounding box
type Bounds struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Contains reports whether the point lies inside the box, edges included
func (b Bounds) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// BoundsOf returns the bounding box of a polygonal geometry
func BoundsOf(g *geojson.Geometry) (Bounds, bool) {
	b := Bounds{MinLon: 180, MinLat: 90, MaxLon: -180, MaxLat: -90}
	found := false

	for _, polygon := range polygonsOf(g) {
		for _, ring := range polygon {
			for _, p := range ring {
				if len(p) < 2 {
					continue
				}
				found = true
				if p[0] < b.MinLon {
					b.MinLon = p[0]
				}
				if p[0] > b.MaxLon {
					b.MaxLon = p[0]
				}
				if p[1] < b.MinLat {
					b.MinLat = p[1]
				}
				if p[1] > b.MaxLat {
					b.MaxLat = p[1]
				}
			}
		}
	}

	return b, found
}

// Contains reports whether (lon, lat) lies inside a Polygon or MultiPolygon.
// The first ring of each polygon is the outer ring, the rest are holes.
func Contains(g *geojson.Geometry, lon, lat float64) bool {
	for _, polygon := range polygonsOf(g) {
		if len(polygon) == 0 || !inRing(lon, lat, polygon[0]) {
			continue
		}
		inHole := false
		for _, hole := range polygon[1:] {
			if inRing(lon, lat, hole) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

func polygonsOf(g *geojson.Geometry) [][][][]float64 {
	if g == nil {
		return nil
	}
	switch {
	case g.IsPolygon():
		return [][][][]float64{g.Polygon}
	case g.IsMultiPolygon():
		return g.MultiPolygon
	default:
		return nil
	}
}

// inRing is the even-odd ray casting test
func inRing(x, y float64, ring [][]float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi+1e-12)+xi {
			inside = !inside
		}
	}
	return inside
}
