package datastore

import (
	"encoding/json"
	"fmt"
	"strings"

	"temperature-map/internal/models"
)

// DecodeTemperatures decodes a {code: celsius} document. Codes are uppercased
// and sentinel codes are skipped.
func DecodeTemperatures(raw []byte) (models.TemperatureSample, error) {
	var values map[string]float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, models.DecodeError(fmt.Errorf("invalid temperature document: %w", err))
	}

	sample := make(models.TemperatureSample, len(values))
	for code, v := range values {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || code == models.SentinelCode {
			continue
		}
		sample[code] = v
	}

	if len(sample) == 0 {
		return nil, models.EmptyDatasetError("temperature document has no usable codes")
	}
	return sample, nil
}

// PointDecodeResult holds the valid points and the records that were rejected
type PointDecodeResult struct {
	Points   []models.PointEntity
	Rejected []error
}

// DecodePoints decodes the point dataset. Invalid records are skipped and
// reported; zero valid records is an empty dataset error.
func DecodePoints(raw []byte) (*PointDecodeResult, error) {
	var records []models.RawPointRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, models.DecodeError(fmt.Errorf("invalid point dataset: %w", err))
	}

	result := &PointDecodeResult{Points: make([]models.PointEntity, 0, len(records))}
	for i := range records {
		point, err := records[i].ToPointEntity()
		if err != nil {
			result.Rejected = append(result.Rejected, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		result.Points = append(result.Points, *point)
	}

	if len(result.Points) == 0 {
		return nil, models.EmptyDatasetError("point dataset has no valid records (%d rejected)", len(result.Rejected))
	}
	return result, nil
}
