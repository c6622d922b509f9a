package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"temperature-map/internal/datastore"
	"temperature-map/internal/render"
	"temperature-map/internal/search"
	"temperature-map/internal/services"
	"temperature-map/pkg/logging"
	"temperature-map/pkg/metrics"
)

// Walks one map view through a click, a search and the whole time slider
// using local files, without a server or database.
func main() {
	geometry := flag.String("geometry", "./data/countries-110m.json", "TopoJSON or GeoJSON geometry file")
	object := flag.String("object", "countries", "Topology object holding the regions")
	temps := flag.String("temperatures", "", "Temperature-by-region JSON file")
	points := flag.String("points", "", "Point dataset JSON file")
	archive := flag.String("archive", "", "Time-series zip archive")
	query := flag.String("query", "par", "Search query for point markers")
	frames := flag.Int("frames", 5, "Maximum number of frames to step through")
	flag.Parse()

	fmt.Println(strings.Repeat("═", 64))
	fmt.Println("TEMPERATURE MAP - PLAYBACK DEMONSTRATION")
	fmt.Println(strings.Repeat("═", 64))

	logger := logging.NewStructuredLogger("playback-demo", "1.0.0", logging.WarnLevel)
	ctx := context.Background()
	m := metrics.NewCollectorWithRegistry("demo", prometheus.NewRegistry())

	store := datastore.NewStore(datastore.Sources{
		Geometry:        *geometry,
		GeometryObject:  *object,
		Temperatures:    *temps,
		Points:          *points,
		TimeSeries:      *archive,
		TimeSeriesEntry: datastore.DefaultSeriesEntry,
	}, datastore.FileFetcher{}, nil, logger, m)

	ds, loadErr := store.LoadAll(ctx)
	if loadErr != nil {
		fmt.Printf("Load failed: %v\n", loadErr)
	}

	var bridgeTemps map[string]float64
	if ds != nil {
		bridgeTemps = ds.Temperatures
	}
	bridge, err := services.NewBridge(services.BridgeOptions{
		Width: 960, Height: 540,
		HeatMin: 230, HeatMax: 310,
		PointMin: -30, PointMax: 35,
		LegendWidth: render.DefaultLegendWidth,
	}, bridgeTemps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid map settings: %v\n", err)
		os.Exit(1)
	}

	view := services.NewMapView("demo", ds, loadErr, bridge, logger, m)
	scene := view.Mount(ctx)
	printStatus(scene)
	if loadErr != nil {
		os.Exit(1)
	}

	summary := services.NewStatisticsService().Summarize(ds)
	fmt.Printf("Regions: %d (%d with data)  Points: %d  Frames: %d\n",
		summary.Features, summary.FeaturesWithData, summary.Points, summary.Frames)

	// Click the first region that has data
	for _, f := range ds.Features {
		if _, ok := ds.Temperatures.Value(f.IdentityCode); !ok {
			continue
		}
		result, scene, err := view.Click(f.IdentityCode)
		if err != nil {
			break
		}
		fmt.Printf("\nClicked %s (%s): added=%t\n", f.DisplayName, f.IdentityCode, result.Added)
		for _, row := range scene.Selection {
			fmt.Printf("  pinned  %-28s %s\n", row.Name, row.Label)
		}
		break
	}

	if scene, err := view.Search(*query); err == nil {
		matched := 0
		for _, mk := range scene.Markers {
			if mk.Class == search.Matched {
				matched++
				fmt.Printf("  match   %s\n", mk.Name)
			}
		}
		fmt.Printf("Search %q matched %d of %d points\n", *query, matched, len(scene.Markers))
	}

	fmt.Println()
	for i := 0; i < min(*frames, summary.Frames); i++ {
		changed, scene, err := view.SetIndex(i)
		if err != nil {
			fmt.Printf("Playback unavailable: %v\n", err)
			break
		}
		fmt.Printf("Frame %3d/%d  %-22s cells=%-6d changed=%t\n",
			scene.Playback.Index+1, scene.Playback.Total, scene.Playback.Label, len(scene.Heat), changed)
	}
}

func printStatus(scene render.SceneState) {
	fmt.Printf("Map: %s  Playback: %s  Search: %s\n", scene.Status.Map, scene.Status.Playback, scene.Status.Search)
	for _, msg := range scene.Status.Messages {
		fmt.Printf("  ! %s\n", msg)
	}
}
