package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"backend-cycletracker/internal/export"
	"backend-cycletracker/internal/location"
	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/stats"
	"backend-cycletracker/internal/tracking"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}
}

// drainTimeout bounds the wait for the controller to process the replayed
// samples after the source has emitted the last one.
var drainTimeout = 10 * time.Second

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(out)
	var (
		gpxPath  = fs.String("gpx", "", "Path to input .gpx file")
		unit     = fs.String("unit", "km", "Display unit: km|mi")
		weightKG = fs.Float64("weight", stats.DefaultWeightKg, "Rider weight in kg")
		outPath  = fs.String("out", "", "Optional export path (.gpx or .fit)")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s --gpx ride.gpx [--unit km|mi] [--weight 70] [--out ride.fit]\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*gpxPath) == "" {
		fs.Usage()
		return flag.ErrHelp
	}

	samples, err := location.LoadGPX(*gpxPath)
	if err != nil {
		return fmt.Errorf("load gpx: %w", err)
	}
	rec, err := replay(context.Background(), samples, tracking.Profile{WeightKg: *weightKG, Unit: geo.ParseUnit(*unit)})
	if err != nil {
		return err
	}

	view := stats.Present(rec.Stats(), geo.ParseUnit(*unit))
	fmt.Fprintf(out, "replay complete\n")
	fmt.Fprintf(out, "samples:        %d\n", len(rec.Route))
	fmt.Fprintf(out, "distance:       %.2f %s\n", view.Distance, view.Unit)
	fmt.Fprintf(out, "duration:       %s\n", time.Duration(rec.DurationSec*float64(time.Second)).Round(time.Second))
	fmt.Fprintf(out, "average speed:  %.1f %s\n", view.AverageSpeed, view.SpeedUnit)
	fmt.Fprintf(out, "max speed:      %.1f %s\n", view.MaxSpeed, view.SpeedUnit)
	fmt.Fprintf(out, "elevation gain: %.0f m\n", view.ElevationGainM)
	fmt.Fprintf(out, "calories:       %d kcal\n", view.Calories)
	if view.AveragePace != nil {
		fmt.Fprintf(out, "average pace:   %d:%02d min/%s\n", view.AveragePace.Minutes, view.AveragePace.Seconds, view.Unit)
	}

	if *outPath != "" {
		if err := writeExport(*outPath, rec); err != nil {
			return err
		}
		fmt.Fprintf(out, "export:         %s\n", *outPath)
	}
	return nil
}

// replay drives a controller over samples with an in-memory store and returns
// the finalized record.
func replay(ctx context.Context, samples []geo.Sample, profile tracking.Profile) (tracking.SessionRecord, error) {
	if len(samples) < 2 {
		return tracking.SessionRecord{}, errors.New("gpx track needs at least two points")
	}
	src := location.NewReplaySource(samples, 0)
	ctrl := tracking.NewController("replay", tracking.Deps{
		Source:  src,
		Gateway: tracking.NewMemoryGateway(),
	}, tracking.Config{Profile: profile})
	defer ctrl.Close()

	if _, err := ctrl.Start(ctx); err != nil {
		return tracking.SessionRecord{}, err
	}

	deadline := time.After(drainTimeout)
	select {
	case <-src.Done():
	case <-deadline:
		return tracking.SessionRecord{}, errors.New("replay timed out")
	}
	for ctrl.Snapshot().SampleCount < len(samples) {
		select {
		case <-deadline:
			return tracking.SessionRecord{}, errors.New("replay timed out")
		case <-time.After(5 * time.Millisecond):
		}
	}
	return ctrl.Stop(ctx)
}

func writeExport(path string, rec tracking.SessionRecord) error {
	format := export.FormatGPX
	if strings.EqualFold(filepath.Ext(path), ".fit") {
		format = export.FormatFIT
	}
	data, err := export.Encode(format, export.Ride{
		ID:        rec.ID,
		Name:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		StartTime: rec.StartTime,
		EndTime:   rec.StartTime.Add(time.Duration(rec.DurationSec * float64(time.Second))),
		Route:     rec.Route,
		Stats:     rec.Stats(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
