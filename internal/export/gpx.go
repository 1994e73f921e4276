package export

import (
	"github.com/tkrajina/gpxgo/gpx"
)

const creator = "cycletracker"

// GPX writes the route as a single track with one segment.
func GPX(ride Ride) ([]byte, error) {
	if len(ride.Route) == 0 {
		return nil, ErrEmptyRoute
	}

	segment := gpx.GPXTrackSegment{Points: make([]gpx.GPXPoint, 0, len(ride.Route))}
	for _, s := range ride.Route {
		p := gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  s.Latitude,
				Longitude: s.Longitude,
				Elevation: *gpx.NewNullableFloat64(s.AltitudeM),
			},
			Timestamp: s.Time().UTC(),
		}
		segment.Points = append(segment.Points, p)
	}

	name := ride.Name
	if name == "" {
		name = "Ride " + ride.StartTime.UTC().Format("2006-01-02 15:04")
	}
	doc := gpx.GPX{
		Version: "1.1",
		Creator: creator,
		Name:    name,
		Time:    &ride.StartTime,
		Tracks: []gpx.GPXTrack{{
			Name:     name,
			Type:     "cycling",
			Segments: []gpx.GPXTrackSegment{segment},
		}},
	}
	return doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}
