package render

import (
	"sort"

	"temperature-map/internal/models"
)

// HeatCell is one projected, colored sample of the heat layer
type HeatCell struct {
	Key   models.PointKey `json:"key"`
	X     float64         `json:"x"`
	Y     float64         `json:"y"`
	Value float64         `json:"value"`
	Fill  string          `json:"fill"`
}

// HeatmapUpdate is the enter/update/exit change set between two frames
type HeatmapUpdate struct {
	Enter  []HeatCell        `json:"enter"`
	Update []HeatCell        `json:"update"`
	Exit   []models.PointKey `json:"exit"`
}

// KeySet is the set of positions currently drawn on the heat layer
type KeySet map[models.PointKey]struct{}

// Reconcile diffs next against the positions drawn by the previous frame.
// Cells are keyed by position: a position present in both frames is updated in
// place, whatever its value. When next repeats a position the last cell wins.
// It returns the change set and the key set of next.
func Reconcile(prev KeySet, next []HeatCell) (HeatmapUpdate, KeySet) {
	latest := make(map[models.PointKey]int, len(next))
	order := make([]models.PointKey, 0, len(next))
	for i, cell := range next {
		if _, seen := latest[cell.Key]; !seen {
			order = append(order, cell.Key)
		}
		latest[cell.Key] = i
	}

	var update HeatmapUpdate
	keys := make(KeySet, len(order))
	for _, key := range order {
		cell := next[latest[key]]
		keys[key] = struct{}{}
		if _, ok := prev[key]; ok {
			update.Update = append(update.Update, cell)
		} else {
			update.Enter = append(update.Enter, cell)
		}
	}

	for key := range prev {
		if _, ok := keys[key]; !ok {
			update.Exit = append(update.Exit, key)
		}
	}
	sortKeys(update.Exit)

	return update, keys
}

func sortKeys(keys []models.PointKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Lon != keys[j].Lon {
			return keys[i].Lon < keys[j].Lon
		}
		return keys[i].Lat < keys[j].Lat
	})
}
