package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"backend-cycletracker/internal/db"
	"backend-cycletracker/internal/shared/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the Postgres gateway. Routes are kept as JSONB on the session row.
type Store struct {
	db db.TxQuerier
}

func NewStore(q db.TxQuerier) *Store {
	return &Store{db: q}
}

const sessionColumns = `id, user_id, start_time, end_time, duration_sec, distance_km,
		max_speed_kmh, min_speed_kmh, average_speed_kmh, calories_burned, elevation_gain_m, route, status`

func (s *Store) CreateSession(ctx context.Context, userID string, startTime time.Time) (string, error) {
	id := uuid.NewString()
	row := s.db.QueryRow(ctx, `
		INSERT INTO ride_sessions (id, user_id, start_time, status, route)
		VALUES ($1,$2,$3,$4,'[]'::jsonb)
		RETURNING id
	`, id, userID, startTime, string(StatusActive))
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if patch.Stats == nil {
		tag, err = s.db.Exec(ctx, `
			UPDATE ride_sessions SET status=$2, updated_at=now() WHERE id=$1
		`, sessionID, string(patch.Status))
	} else {
		st := patch.Stats
		tag, err = s.db.Exec(ctx, `
			UPDATE ride_sessions
			SET status=$2, duration_sec=$3, distance_km=$4, max_speed_kmh=$5, min_speed_kmh=$6,
			    average_speed_kmh=$7, calories_burned=$8, elevation_gain_m=$9, updated_at=now()
			WHERE id=$1
		`, sessionID, string(patch.Status), st.DurationSec, st.DistanceKm, st.MaxSpeedKmh, st.MinSpeedKmh,
			st.AverageSpeedKmh, st.CaloriesBurned, st.ElevationGainM)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FinalizeSession(ctx context.Context, rec SessionRecord) error {
	route, err := json.Marshal(rec.Route)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_sessions
		SET end_time=$2, duration_sec=$3, distance_km=$4, max_speed_kmh=$5, min_speed_kmh=$6,
		    average_speed_kmh=$7, calories_burned=$8, elevation_gain_m=$9, route=$10, status=$11, updated_at=now()
		WHERE id=$1
	`, rec.ID, rec.EndTime, rec.DurationSec, rec.DistanceKm, rec.MaxSpeedKmh, rec.MinSpeedKmh,
		rec.AverageSpeedKmh, rec.Summary.CaloriesBurned, rec.Summary.ElevationGainM, route, string(rec.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM ride_sessions WHERE id=$1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM ride_sessions WHERE id=$1`, sessionID)
	rec, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *Store) SessionHistory(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM ride_sessions
		WHERE user_id=$1 AND status=$2
		ORDER BY start_time DESC
		LIMIT $3
	`, userID, string(StatusCompleted), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateUserAggregate locks the totals row for the duration of the
// read-modify-write so concurrent completions cannot lose an update.
func (s *Store) UpdateUserAggregate(ctx context.Context, userID string, delta AggregateDelta) (UserAggregate, error) {
	var next UserAggregate
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_ride_totals (user_id) VALUES ($1)
			ON CONFLICT (user_id) DO NOTHING
		`, userID); err != nil {
			return err
		}

		var cur UserAggregate
		if err := tx.QueryRow(ctx, `
			SELECT rides, total_distance_km, total_time_sec
			FROM user_ride_totals WHERE user_id=$1
			FOR UPDATE
		`, userID).Scan(&cur.Rides, &cur.TotalDistanceKm, &cur.TotalTimeSec); err != nil {
			return err
		}

		next = cur.Apply(delta)
		_, err := tx.Exec(ctx, `
			UPDATE user_ride_totals
			SET rides=$2, total_distance_km=$3, total_time_sec=$4, updated_at=now()
			WHERE user_id=$1
		`, userID, next.Rides, next.TotalDistanceKm, next.TotalTimeSec)
		return err
	})
	if err != nil {
		return UserAggregate{}, err
	}
	return next, nil
}

func (s *Store) UserAggregate(ctx context.Context, userID string) (UserAggregate, error) {
	var agg UserAggregate
	err := s.db.QueryRow(ctx, `
		SELECT rides, total_distance_km, total_time_sec
		FROM user_ride_totals WHERE user_id=$1
	`, userID).Scan(&agg.Rides, &agg.TotalDistanceKm, &agg.TotalTimeSec)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAggregate{}, nil
	}
	return agg, err
}

func scanSession(row pgx.Row) (SessionRecord, error) {
	var (
		rec    SessionRecord
		status string
		route  []byte
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.StartTime, &rec.EndTime, &rec.DurationSec, &rec.DistanceKm,
		&rec.MaxSpeedKmh, &rec.MinSpeedKmh, &rec.AverageSpeedKmh, &rec.Summary.CaloriesBurned,
		&rec.Summary.ElevationGainM, &route, &status); err != nil {
		return SessionRecord{}, err
	}
	rec.Status = Status(status)
	rec.Summary.TopSpeedKmh = rec.MaxSpeedKmh
	rec.Summary.AverageSpeedKmh = rec.AverageSpeedKmh
	rec.Route = []geo.Sample{}
	if len(route) > 0 {
		if err := json.Unmarshal(route, &rec.Route); err != nil {
			return SessionRecord{}, err
		}
	}
	return rec, nil
}
