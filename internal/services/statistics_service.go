package services

import (
	"gonum.org/v1/gonum/stat"

	"temperature-map/internal/datastore"
	"temperature-map/internal/models"
)

// DatasetSummary describes the loaded datasets
type DatasetSummary struct {
	Features          int            `json:"features"`
	FeaturesWithData  int            `json:"features_with_data"`
	Points            int            `json:"points"`
	Frames            int            `json:"frames"`
	FirstTimestamp    string         `json:"first_timestamp,omitempty"`
	LastTimestamp     string         `json:"last_timestamp,omitempty"`
	Temperature       *ValueSummary  `json:"temperature,omitempty"`
	FrameTemperatures []FrameSummary `json:"frame_temperatures,omitempty"`
	Collisions        []string       `json:"collisions,omitempty"`
	// Optional sources still loading
	Loading []string `json:"loading,omitempty"`
}

// ValueSummary holds descriptive statistics in °C
type ValueSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// FrameSummary is the area-unweighted mean of one frame in °C
type FrameSummary struct {
	Timestamp string  `json:"timestamp"`
	Mean      float64 `json:"mean"`
	Count     int     `json:"count"`
}

// StatisticsService computes summaries of the loaded dataset
type StatisticsService struct{}

// NewStatisticsService creates a new statistics service
func NewStatisticsService() *StatisticsService {
	return &StatisticsService{}
}

// Summarize describes ds
func (s *StatisticsService) Summarize(ds *datastore.Dataset) DatasetSummary {
	summary := DatasetSummary{
		Features:   len(ds.Features),
		Points:     len(ds.Points),
		Frames:     ds.Series.Len(),
		Collisions: ds.Collisions,
	}

	if ds.PointsPending {
		summary.Loading = append(summary.Loading, datastore.SourcePoints)
	}
	if ds.SeriesPending {
		summary.Loading = append(summary.Loading, datastore.SourceTimeSeries)
	}

	for _, f := range ds.Features {
		if _, ok := ds.Temperatures.Value(f.IdentityCode); ok {
			summary.FeaturesWithData++
		}
	}

	summary.Temperature = summarize(ds.Temperatures.Values())

	if ds.SeriesAvailable() {
		timestamps := ds.Series.Timestamps()
		summary.FirstTimestamp = timestamps[0]
		summary.LastTimestamp = timestamps[len(timestamps)-1]

		for i := range timestamps {
			frame := ds.Series.Frame(i)
			values := make([]float64, 0, len(frame))
			for _, sample := range frame {
				values = append(values, models.KelvinToCelsius(sample.Value))
			}
			fs := FrameSummary{Timestamp: timestamps[i], Count: len(values)}
			if len(values) > 0 {
				fs.Mean = stat.Mean(values, nil)
			}
			summary.FrameTemperatures = append(summary.FrameTemperatures, fs)
		}
	}

	return summary
}

func summarize(values []float64) *ValueSummary {
	if len(values) == 0 {
		return nil
	}
	mean, std := stat.MeanStdDev(values, nil)
	out := &ValueSummary{Mean: mean, StdDev: std, Min: values[0], Max: values[0], Count: len(values)}
	for _, v := range values[1:] {
		out.Min = min(out.Min, v)
		out.Max = max(out.Max, v)
	}
	return out
}
