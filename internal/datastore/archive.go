package datastore

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"temperature-map/internal/models"
)

// DefaultSeriesEntry is the archive entry holding the time series
const DefaultSeriesEntry = "temperature_data.json"

// DecodeTimeSeriesArchive opens a zip payload, reads the named entry and
// decodes it into a TimeSeries. A missing entry is a decode error and a series
// without timestamps is an empty dataset error.
func DecodeTimeSeriesArchive(data []byte, entry string) (*models.TimeSeries, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.DecodeError(fmt.Errorf("invalid archive: %w", err))
	}

	var file *zip.File
	for _, f := range zr.File {
		if f.Name == entry {
			file = f
			break
		}
	}
	if file == nil {
		return nil, models.DecodeError(fmt.Errorf("archive has no entry %q", entry))
	}

	rc, err := file.Open()
	if err != nil {
		return nil, models.DecodeError(fmt.Errorf("failed to open entry %q: %w", entry, err))
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, models.DecodeError(fmt.Errorf("failed to decompress entry %q: %w", entry, err))
	}

	return DecodeTimeSeries(raw)
}

// DecodeTimeSeries decodes the {timestamp: [[lon, lat, value], ...]} document
func DecodeTimeSeries(raw []byte) (*models.TimeSeries, error) {
	var frames map[string][]models.Sample
	if err := json.Unmarshal(raw, &frames); err != nil {
		return nil, models.DecodeError(fmt.Errorf("invalid time series: %w", err))
	}
	if len(frames) == 0 {
		return nil, models.EmptyDatasetError("time series has no timestamps")
	}
	return models.NewTimeSeries(frames), nil
}
