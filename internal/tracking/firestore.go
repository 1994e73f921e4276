package tracking

import (
	"context"
	"errors"
	"time"

	"backend-cycletracker/internal/shared/geo"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ridesCollection  = "rides"
	totalsCollection = "user_totals"
)

// FirestoreGateway stores rides as documents, one per session, and per-user
// totals in a separate collection updated inside a transaction.
type FirestoreGateway struct {
	client *firestore.Client
}

func NewFirestoreGateway(client *firestore.Client) *FirestoreGateway {
	return &FirestoreGateway{client: client}
}

type rideDoc struct {
	UserID          string       `firestore:"userId"`
	StartTime       time.Time    `firestore:"startTime"`
	EndTime         *time.Time   `firestore:"endTime"`
	DurationSec     float64      `firestore:"durationSec"`
	DistanceKm      float64      `firestore:"distanceKm"`
	MaxSpeedKmh     float64      `firestore:"maxSpeedKmh"`
	MinSpeedKmh     float64      `firestore:"minSpeedKmh"`
	AverageSpeedKmh float64      `firestore:"averageSpeedKmh"`
	Route           []routePoint `firestore:"route"`
	Summary         summaryDoc   `firestore:"summary"`
	Status          string       `firestore:"status"`
}

type routePoint struct {
	Latitude    float64 `firestore:"latitude"`
	Longitude   float64 `firestore:"longitude"`
	TimestampMs int64   `firestore:"timestamp"`
	SpeedMps    float64 `firestore:"speed"`
	AltitudeM   float64 `firestore:"altitude"`
}

type summaryDoc struct {
	TopSpeed       float64 `firestore:"topSpeed"`
	AverageSpeed   float64 `firestore:"averageSpeed"`
	CaloriesBurned int     `firestore:"caloriesBurned"`
	ElevationGainM float64 `firestore:"elevationGain"`
}

type totalsDoc struct {
	Rides           int     `firestore:"rides"`
	TotalDistanceKm float64 `firestore:"totalDistance"`
	TotalTimeSec    float64 `firestore:"totalTime"`
}

func toRideDoc(rec SessionRecord) rideDoc {
	route := make([]routePoint, 0, len(rec.Route))
	for _, s := range rec.Route {
		route = append(route, routePoint{
			Latitude:    s.Latitude,
			Longitude:   s.Longitude,
			TimestampMs: s.TimestampMs,
			SpeedMps:    s.SpeedMps,
			AltitudeM:   s.AltitudeM,
		})
	}
	return rideDoc{
		UserID:          rec.UserID,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		DurationSec:     rec.DurationSec,
		DistanceKm:      rec.DistanceKm,
		MaxSpeedKmh:     rec.MaxSpeedKmh,
		MinSpeedKmh:     rec.MinSpeedKmh,
		AverageSpeedKmh: rec.AverageSpeedKmh,
		Route:           route,
		Summary: summaryDoc{
			TopSpeed:       rec.Summary.TopSpeedKmh,
			AverageSpeed:   rec.Summary.AverageSpeedKmh,
			CaloriesBurned: rec.Summary.CaloriesBurned,
			ElevationGainM: rec.Summary.ElevationGainM,
		},
		Status: string(rec.Status),
	}
}

func fromRideDoc(id string, d rideDoc) SessionRecord {
	route := make([]geo.Sample, 0, len(d.Route))
	for _, p := range d.Route {
		route = append(route, geo.Sample{
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			TimestampMs: p.TimestampMs,
			SpeedMps:    p.SpeedMps,
			AltitudeM:   p.AltitudeM,
		})
	}
	return SessionRecord{
		ID:              id,
		UserID:          d.UserID,
		StartTime:       d.StartTime,
		EndTime:         d.EndTime,
		DurationSec:     d.DurationSec,
		DistanceKm:      d.DistanceKm,
		MaxSpeedKmh:     d.MaxSpeedKmh,
		MinSpeedKmh:     d.MinSpeedKmh,
		AverageSpeedKmh: d.AverageSpeedKmh,
		Route:           route,
		Summary: Summary{
			TopSpeedKmh:     d.Summary.TopSpeed,
			AverageSpeedKmh: d.Summary.AverageSpeed,
			CaloriesBurned:  d.Summary.CaloriesBurned,
			ElevationGainM:  d.Summary.ElevationGainM,
		},
		Status: Status(d.Status),
	}
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (g *FirestoreGateway) CreateSession(ctx context.Context, userID string, startTime time.Time) (string, error) {
	ref := g.client.Collection(ridesCollection).NewDoc()
	doc := toRideDoc(SessionRecord{UserID: userID, StartTime: startTime, Status: StatusActive})
	if _, err := ref.Create(ctx, doc); err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (g *FirestoreGateway) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) error {
	updates := []firestore.Update{{Path: "status", Value: string(patch.Status)}}
	if st := patch.Stats; st != nil {
		updates = append(updates,
			firestore.Update{Path: "durationSec", Value: st.DurationSec},
			firestore.Update{Path: "distanceKm", Value: st.DistanceKm},
			firestore.Update{Path: "maxSpeedKmh", Value: st.MaxSpeedKmh},
			firestore.Update{Path: "minSpeedKmh", Value: st.MinSpeedKmh},
			firestore.Update{Path: "averageSpeedKmh", Value: st.AverageSpeedKmh},
			firestore.Update{Path: "summary.topSpeed", Value: st.MaxSpeedKmh},
			firestore.Update{Path: "summary.averageSpeed", Value: st.AverageSpeedKmh},
			firestore.Update{Path: "summary.caloriesBurned", Value: st.CaloriesBurned},
			firestore.Update{Path: "summary.elevationGain", Value: st.ElevationGainM},
		)
	}
	_, err := g.client.Collection(ridesCollection).Doc(sessionID).Update(ctx, updates)
	if notFound(err) {
		return ErrNotFound
	}
	return err
}

func (g *FirestoreGateway) FinalizeSession(ctx context.Context, rec SessionRecord) error {
	ref := g.client.Collection(ridesCollection).Doc(rec.ID)
	err := g.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, toRideDoc(rec))
	})
	if notFound(err) {
		return ErrNotFound
	}
	return err
}

func (g *FirestoreGateway) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := g.client.Collection(ridesCollection).Doc(sessionID).Delete(ctx, firestore.Exists)
	if notFound(err) {
		return ErrNotFound
	}
	return err
}

func (g *FirestoreGateway) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	snap, err := g.client.Collection(ridesCollection).Doc(sessionID).Get(ctx)
	if notFound(err) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	var doc rideDoc
	if err := snap.DataTo(&doc); err != nil {
		return SessionRecord{}, err
	}
	return fromRideDoc(snap.Ref.ID, doc), nil
}

func (g *FirestoreGateway) SessionHistory(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	iter := g.client.Collection(ridesCollection).
		Where("userId", "==", userID).
		Where("status", "==", string(StatusCompleted)).
		OrderBy("startTime", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	out := []SessionRecord{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc rideDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromRideDoc(snap.Ref.ID, doc))
	}
	return out, nil
}

func (g *FirestoreGateway) UpdateUserAggregate(ctx context.Context, userID string, delta AggregateDelta) (UserAggregate, error) {
	ref := g.client.Collection(totalsCollection).Doc(userID)
	var next UserAggregate
	err := g.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var cur totalsDoc
		snap, err := tx.Get(ref)
		switch {
		case notFound(err):
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&cur); err != nil {
				return err
			}
		}
		next = UserAggregate{
			Rides:           cur.Rides,
			TotalDistanceKm: cur.TotalDistanceKm,
			TotalTimeSec:    cur.TotalTimeSec,
		}.Apply(delta)
		return tx.Set(ref, totalsDoc{
			Rides:           next.Rides,
			TotalDistanceKm: next.TotalDistanceKm,
			TotalTimeSec:    next.TotalTimeSec,
		})
	})
	if err != nil {
		return UserAggregate{}, err
	}
	return next, nil
}

func (g *FirestoreGateway) UserAggregate(ctx context.Context, userID string) (UserAggregate, error) {
	snap, err := g.client.Collection(totalsCollection).Doc(userID).Get(ctx)
	if notFound(err) {
		return UserAggregate{}, nil
	}
	if err != nil {
		return UserAggregate{}, err
	}
	var doc totalsDoc
	if err := snap.DataTo(&doc); err != nil {
		return UserAggregate{}, err
	}
	return UserAggregate{Rides: doc.Rides, TotalDistanceKm: doc.TotalDistanceKm, TotalTimeSec: doc.TotalTimeSec}, nil
}
