// Package geo resolves raw geographic features to stable identities and
// decodes the geometry payloads the map is drawn from.
package geo

import (
	"strconv"
	"strings"

	geojson "github.com/paulmach/go.geojson"

	"temperature-map/internal/models"
)

// FeatureIDField selects the feature's own identifier instead of a property
const FeatureIDField = "$id"

// UnknownName is the display name of a feature with no usable name field
const UnknownName = "Unknown"

// DefaultIdentityFields is the priority order for identity codes:
// ISO-3 code, administrative code, feature identifier, then name.
var DefaultIdentityFields = []string{"iso_a3", "adm0_a3", FeatureIDField, "name"}

// DefaultNameFields is the priority order for display names
var DefaultNameFields = []string{"name", "name_long", "admin"}

// Index resolves identity codes and display names from raw features.
// It is a pure value; the zero value is not usable, use DefaultIndex.
type Index struct {
	IdentityFields []string
	NameFields     []string
	Sentinels      []string
}

// DefaultIndex returns the index used for the bundled datasets
func DefaultIndex() Index {
	return Index{
		IdentityFields: DefaultIdentityFields,
		NameFields:     DefaultNameFields,
		Sentinels:      []string{models.SentinelCode},
	}
}

// IdentityOf returns the normalized identity code of f.
// The first candidate that is non-empty and not a sentinel wins; ok is false when none does.
func (ix Index) IdentityOf(f *geojson.Feature) (code string, ok bool) {
	if f == nil {
		return "", false
	}

	for _, field := range ix.IdentityFields {
		var raw interface{}
		if field == FeatureIDField {
			raw = f.ID
		} else if f.Properties != nil {
			raw = f.Properties[field]
		}

		value := strings.ToUpper(strings.TrimSpace(stringify(raw)))
		if value == "" || ix.isSentinel(value) {
			continue
		}
		return value, true
	}

	return "", false
}

// NameOf returns the display name of f, falling back to UnknownName
func (ix Index) NameOf(f *geojson.Feature) string {
	if f == nil || f.Properties == nil {
		return UnknownName
	}

	for _, field := range ix.NameFields {
		if name := strings.TrimSpace(stringify(f.Properties[field])); name != "" {
			return name
		}
	}

	return UnknownName
}

func (ix Index) isSentinel(value string) bool {
	for _, s := range ix.Sentinels {
		if value == s {
			return true
		}
	}
	return false
}

// BuildResult is the normalized feature set
type BuildResult struct {
	Features []models.Feature
	// Collisions lists codes produced by more than one raw feature
	Collisions []string
}

// BuildFeatures normalizes raw features into models.Feature records.
// Features sharing a code collapse to the last one (last write wins) at the
// position of the first; features without a code are kept with an empty code.
func (ix Index) BuildFeatures(raw []*geojson.Feature) BuildResult {
	result := BuildResult{Features: make([]models.Feature, 0, len(raw))}
	position := make(map[string]int, len(raw))

	for _, f := range raw {
		if f == nil {
			continue
		}

		feature := models.Feature{
			DisplayName: ix.NameOf(f),
			Geometry:    f.Geometry,
		}

		code, ok := ix.IdentityOf(f)
		if !ok {
			result.Features = append(result.Features, feature)
			continue
		}
		feature.IdentityCode = code

		if at, seen := position[code]; seen {
			result.Features[at] = feature
			result.Collisions = append(result.Collisions, code)
			continue
		}

		position[code] = len(result.Features)
		result.Features = append(result.Features, feature)
	}

	return result
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
