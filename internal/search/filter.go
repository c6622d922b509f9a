// Package search classifies point markers against a free-text query.
package search

import (
	"fmt"
	"strings"

	"temperature-map/internal/models"
)

// Classification is the emphasis state of one point marker
type Classification int

const (
	Neutral Classification = iota
	Matched
	Dimmed
)

func (c Classification) String() string {
	switch c {
	case Neutral:
		return "neutral"
	case Matched:
		return "matched"
	case Dimmed:
		return "dimmed"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// MarshalText encodes the classification by name
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a classification name
func (c *Classification) UnmarshalText(text []byte) error {
	switch string(text) {
	case "neutral":
		*c = Neutral
	case "matched":
		*c = Matched
	case "dimmed":
		*c = Dimmed
	default:
		return fmt.Errorf("unknown classification %q", text)
	}
	return nil
}

// Classify matches query against every point name, case-insensitively.
// A blank query resets every point to Neutral.
func Classify(query string, points []models.PointEntity) map[models.PointKey]Classification {
	out := make(map[models.PointKey]Classification, len(points))

	needle := strings.ToLower(strings.TrimSpace(query))
	for _, p := range points {
		switch {
		case needle == "":
			out[p.Key()] = Neutral
		case strings.Contains(strings.ToLower(p.Name), needle):
			out[p.Key()] = Matched
		default:
			// A matched point sharing the key keeps its emphasis.
			if out[p.Key()] != Matched {
				out[p.Key()] = Dimmed
			}
		}
	}
	return out
}
