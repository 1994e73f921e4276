package export

import (
	"bytes"
	"math"

	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/stats"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
)

// Degrees to semicircles, the FIT position unit.
const degreesToSemicircles = 2147483648.0 / 180.0

// FIT writes an activity file: file id, one record per sample, a timer stop
// event, then a lap and a session summarising the whole ride.
func FIT(ride Ride) ([]byte, error) {
	if len(ride.Route) == 0 {
		return nil, ErrEmptyRoute
	}
	start := ride.StartTime
	end := ride.EndTime
	if last := ride.Route[len(ride.Route)-1].Time(); end.IsZero() || end.Before(last) {
		end = last
	}

	fit := proto.FIT{}
	fileID := mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		Product:      0,
		SerialNumber: 1,
		TimeCreated:  start,
	}
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	// Cumulative distance follows the same jump rejection as the ride totals.
	acc := stats.NewAccumulator(start.UnixMilli())
	for _, s := range ride.Route {
		acc.Add(s)
		rec := record(s, acc.DistanceKm())
		fit.Messages = append(fit.Messages, rec.ToMesg(nil))
	}

	st := ride.Stats
	elapsed := scaleMs(st.DurationSec)
	distance := scaleCm(st.DistanceKm * 1000)

	event := mesgdef.Event{
		Timestamp: end,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStopAll,
	}
	fit.Messages = append(fit.Messages, event.ToMesg(nil))

	lap := mesgdef.Lap{
		Timestamp:        end,
		StartTime:        start,
		TotalElapsedTime: elapsed,
		TotalTimerTime:   elapsed,
		TotalDistance:    distance,
		Event:            typedef.EventLap,
		EventType:        typedef.EventTypeStop,
	}
	fit.Messages = append(fit.Messages, lap.ToMesg(nil))

	session := mesgdef.Session{
		Timestamp:        end,
		StartTime:        start,
		TotalElapsedTime: elapsed,
		TotalTimerTime:   elapsed,
		TotalDistance:    distance,
		TotalCalories:    uint16(clamp(float64(st.CaloriesBurned), math.MaxUint16)),
		TotalAscent:      uint16(clamp(math.Round(st.ElevationGainM), math.MaxUint16)),
		EnhancedAvgSpeed: scaleMmps(st.AverageSpeedKmh / 3.6),
		EnhancedMaxSpeed: scaleMmps(st.MaxSpeedKmh / 3.6),
		Sport:            typedef.SportCycling,
		SubSport:         typedef.SubSportRoad,
		Event:            typedef.EventSession,
		EventType:        typedef.EventTypeStop,
		Trigger:          typedef.SessionTriggerActivityEnd,
	}
	fit.Messages = append(fit.Messages, session.ToMesg(nil))

	var buf bytes.Buffer
	if err := encoder.New(&buf).Encode(&fit); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func record(s geo.Sample, distanceKm float64) *mesgdef.Record {
	return &mesgdef.Record{
		Timestamp:    s.Time().UTC(),
		PositionLat:  int32(s.Latitude * degreesToSemicircles),
		PositionLong: int32(s.Longitude * degreesToSemicircles),
		Distance:     scaleCm(distanceKm * 1000),
		// speed scale 1000, altitude scale 5 offset 500
		EnhancedSpeed:    scaleMmps(s.SpeedMps),
		EnhancedAltitude: uint32(clamp((s.AltitudeM+500)*5, math.MaxUint32)),
	}
}

func scaleMs(sec float64) uint32 { return uint32(clamp(sec*1000, math.MaxUint32)) }

func scaleCm(m float64) uint32 { return uint32(clamp(m*100, math.MaxUint32)) }

func scaleMmps(mps float64) uint32 { return uint32(clamp(mps*1000, math.MaxUint32)) }

func clamp(v, hi float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

