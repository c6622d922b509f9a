package geo

import (
	"encoding/json"
	"fmt"
	"strings"

	geojson "github.com/paulmach/go.geojson"
)

// Topology is a TopoJSON document
type Topology struct {
	Type      string                     `json:"type"`
	Transform *Transform                 `json:"transform,omitempty"`
	Objects   map[string]*TopologyObject `json:"objects"`
	Arcs      [][][]float64              `json:"arcs"`
}

// Transform holds the quantization parameters of a topology
type Transform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

// TopologyObject is a geometry or geometry collection inside a topology
type TopologyObject struct {
	Type       string                 `json:"type"`
	ID         interface{}            `json:"id,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Arcs       json.RawMessage        `json:"arcs,omitempty"`
	Geometries []*TopologyObject      `json:"geometries,omitempty"`
}

// Features converts the named object of the topology into GeoJSON features.
// Only polygonal geometries are kept; other geometry types are skipped.
func (t *Topology) Features(object string) ([]*geojson.Feature, error) {
	obj, ok := t.Objects[object]
	if !ok {
		return nil, fmt.Errorf("topology has no object %q", object)
	}

	arcs := t.decodeArcs()

	var members []*TopologyObject
	if strings.EqualFold(obj.Type, "GeometryCollection") {
		members = obj.Geometries
	} else {
		members = []*TopologyObject{obj}
	}

	features := make([]*geojson.Feature, 0, len(members))
	for i, member := range members {
		geometry, err := member.geometry(arcs)
		if err != nil {
			return nil, fmt.Errorf("geometry %d: %w", i, err)
		}
		if geometry == nil {
			continue
		}

		feature := geojson.NewFeature(geometry)
		feature.ID = member.ID
		feature.Properties = member.Properties
		if feature.Properties == nil {
			feature.Properties = map[string]interface{}{}
		}
		features = append(features, feature)
	}

	return features, nil
}

// decodeArcs returns absolute coordinates for every arc, undoing delta encoding
// and quantization when a transform is present.
func (t *Topology) decodeArcs() [][][]float64 {
	out := make([][][]float64, len(t.Arcs))

	for i, arc := range t.Arcs {
		points := make([][]float64, 0, len(arc))
		var x, y float64
		for _, p := range arc {
			if len(p) < 2 {
				continue
			}
			if t.Transform == nil {
				points = append(points, []float64{p[0], p[1]})
				continue
			}
			x += p[0]
			y += p[1]
			points = append(points, []float64{
				x*t.Transform.Scale[0] + t.Transform.Translate[0],
				y*t.Transform.Scale[1] + t.Transform.Translate[1],
			})
		}
		out[i] = points
	}

	return out
}

func (o *TopologyObject) geometry(arcs [][][]float64) (*geojson.Geometry, error) {
	switch o.Type {
	case "Polygon":
		var rings [][]int
		if err := json.Unmarshal(o.Arcs, &rings); err != nil {
			return nil, fmt.Errorf("polygon arcs: %w", err)
		}
		polygon, err := stitchPolygon(rings, arcs)
		if err != nil {
			return nil, err
		}
		return geojson.NewPolygonGeometry(polygon), nil

	case "MultiPolygon":
		var parts [][][]int
		if err := json.Unmarshal(o.Arcs, &parts); err != nil {
			return nil, fmt.Errorf("multipolygon arcs: %w", err)
		}
		polygons := make([][][][]float64, 0, len(parts))
		for _, rings := range parts {
			polygon, err := stitchPolygon(rings, arcs)
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, polygon)
		}
		return geojson.NewMultiPolygonGeometry(polygons...), nil

	default:
		return nil, nil
	}
}

func stitchPolygon(rings [][]int, arcs [][][]float64) ([][][]float64, error) {
	polygon := make([][][]float64, 0, len(rings))
	for _, ring := range rings {
		coords, err := stitchRing(ring, arcs)
		if err != nil {
			return nil, err
		}
		polygon = append(polygon, coords)
	}
	return polygon, nil
}

// stitchRing joins arcs into one ring. A negative index ~i means arc i reversed.
// Consecutive arcs share an endpoint, so the first point of every arc after the first is dropped.
func stitchRing(indexes []int, arcs [][][]float64) ([][]float64, error) {
	var ring [][]float64

	for n, idx := range indexes {
		reversed := idx < 0
		if reversed {
			idx = ^idx
		}
		if idx >= len(arcs) {
			return nil, fmt.Errorf("arc index %d out of range (%d arcs)", idx, len(arcs))
		}

		arc := arcs[idx]
		points := make([][]float64, len(arc))
		for i := range arc {
			if reversed {
				points[i] = arc[len(arc)-1-i]
			} else {
				points[i] = arc[i]
			}
		}

		if n > 0 && len(points) > 0 {
			points = points[1:]
		}
		ring = append(ring, points...)
	}

	return ring, nil
}
