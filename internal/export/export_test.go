package export

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/stats"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/tkrajina/gpxgo/gpx"
)

func sampleRide() Ride {
	start := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	route := []geo.Sample{
		{Latitude: 48.1000, Longitude: 11.5, TimestampMs: start.UnixMilli(), SpeedMps: 5, AltitudeM: 520},
		{Latitude: 48.1004, Longitude: 11.5, TimestampMs: start.Add(10 * time.Second).UnixMilli(), SpeedMps: 5, AltitudeM: 523},
		{Latitude: 48.1008, Longitude: 11.5, TimestampMs: start.Add(20 * time.Second).UnixMilli(), SpeedMps: 6, AltitudeM: 521},
	}
	return Ride{
		ID:        "ride-1",
		StartTime: start,
		EndTime:   start.Add(25 * time.Second),
		Route:     route,
		Stats:     stats.Compute(route, stats.Options{StartMs: start.UnixMilli(), WeightKg: 70}),
	}
}

func TestGPXRoundTrip(t *testing.T) {
	ride := sampleRide()
	out, err := GPX(ride)
	if err != nil {
		t.Fatalf("gpx: %v", err)
	}

	parsed, err := gpx.ParseBytes(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Tracks) != 1 || len(parsed.Tracks[0].Segments) != 1 {
		t.Fatalf("expected one track with one segment")
	}
	points := parsed.Tracks[0].Segments[0].Points
	if len(points) != len(ride.Route) {
		t.Fatalf("expected %d points, got %d", len(ride.Route), len(points))
	}
	if points[1].Latitude != 48.1004 || points[1].Elevation.Value() != 523 {
		t.Fatalf("unexpected point %+v", points[1])
	}
	if !points[2].Timestamp.Equal(ride.Route[2].Time()) {
		t.Fatalf("timestamp not preserved: %v", points[2].Timestamp)
	}
}

func TestFITEncodesSession(t *testing.T) {
	ride := sampleRide()
	out, err := FIT(ride)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(out) < 14 || string(out[8:12]) != ".FIT" {
		t.Fatalf("missing FIT header")
	}

	decoded, err := decoder.New(bytes.NewReader(out)).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	var records int
	var session *mesgdef.Session
	for i := range decoded.Messages {
		switch decoded.Messages[i].Num {
		case typedef.MesgNumRecord:
			records++
		case typedef.MesgNumSession:
			session = mesgdef.NewSession(&decoded.Messages[i])
		}
	}
	if records != len(ride.Route) {
		t.Fatalf("expected %d records, got %d", len(ride.Route), records)
	}
	if session == nil {
		t.Fatalf("expected session message")
	}
	if session.Sport != typedef.SportCycling {
		t.Fatalf("expected cycling sport")
	}
	if int(session.TotalCalories) != ride.Stats.CaloriesBurned {
		t.Fatalf("calories %d != %d", session.TotalCalories, ride.Stats.CaloriesBurned)
	}
	if session.TotalElapsedTime != 20000 {
		t.Fatalf("expected 20s elapsed, got %d", session.TotalElapsedTime)
	}
}

func TestEncodeEmptyRoute(t *testing.T) {
	if _, err := Encode(FormatGPX, Ride{}); !errors.Is(err, ErrEmptyRoute) {
		t.Fatalf("expected empty route error, got %v", err)
	}
	if _, err := FIT(Ride{}); !errors.Is(err, ErrEmptyRoute) {
		t.Fatalf("expected empty route error, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"gpx", FormatGPX, true},
		{"fit", FormatFIT, true},
		{"", FormatGPX, true},
		{"tcx", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseFormat(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseFormat(%q) = %q, %v", tc.in, got, ok)
		}
	}
	if FormatFIT.ContentType() == FormatGPX.ContentType() {
		t.Fatalf("expected distinct content types")
	}
}
