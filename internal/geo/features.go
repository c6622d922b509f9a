package geo

import (
	"encoding/json"
	"fmt"

	geojson "github.com/paulmach/go.geojson"
)

// DefaultTopologyObject is the object holding country polygons in the world atlas topology
const DefaultTopologyObject = "countries"

// DecodeFeatures decodes a geometry payload into raw features. Both TopoJSON
// topologies (object selects the member to convert) and GeoJSON feature
// collections are accepted.
func DecodeFeatures(data []byte, object string) ([]*geojson.Feature, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("geometry is not a JSON object: %w", err)
	}

	switch header.Type {
	case "Topology":
		var topo Topology
		if err := json.Unmarshal(data, &topo); err != nil {
			return nil, fmt.Errorf("invalid topology: %w", err)
		}
		if object == "" {
			object = DefaultTopologyObject
		}
		return topo.Features(object)

	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature collection: %w", err)
		}
		return fc.Features, nil

	default:
		return nil, fmt.Errorf("unsupported geometry type %q", header.Type)
	}
}
