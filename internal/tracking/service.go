package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"

	"backend-cycletracker/internal/export"
	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/stats"
)

const maxHistoryLimit = 100

// Service serves completed rides: history, deletion, offline analysis and
// file export.
type Service struct {
	gateway      Gateway
	historyLimit int
}

func NewService(gateway Gateway, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Service{gateway: gateway, historyLimit: historyLimit}
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	recs, err := s.gateway.SessionHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return recs, nil
}

// owned loads a session and checks it belongs to userID.
func (s *Service) owned(ctx context.Context, userID, sessionID string) (SessionRecord, error) {
	rec, err := s.gateway.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if rec.UserID != userID {
		return SessionRecord{}, ErrNotAuthorized
	}
	return rec, nil
}

// Delete removes a ride owned by userID. Completed rides are taken back out
// of the user's totals before the record goes, so a failed decrement leaves
// both in place. A ride still being recorded cannot be deleted.
func (s *Service) Delete(ctx context.Context, userID, sessionID string) error {
	rec, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !rec.Status.Terminal() {
		return fmt.Errorf("%w: session %s is still %s", ErrInvalidTransition, sessionID, rec.Status)
	}

	completed := rec.Status == StatusCompleted
	if completed {
		if _, err := s.gateway.UpdateUserAggregate(ctx, userID, removalDelta(rec)); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		}
	}
	if err := s.gateway.DeleteSession(ctx, sessionID); err != nil {
		if completed {
			if _, rerr := s.gateway.UpdateUserAggregate(ctx, userID, completionDelta(rec)); rerr != nil {
				log.Printf("restore totals for %s after failed delete: %v", userID, rerr)
			}
		}
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// Analysis recomputes a stored ride with the same engine the live path uses.
func (s *Service) Analysis(ctx context.Context, userID, sessionID string, profile Profile) (stats.View, error) {
	rec, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return stats.View{}, err
	}
	return stats.Analyze(rec.Route, stats.Options{
		StartMs:  rec.StartTime.UnixMilli(),
		WeightKg: profile.WeightKg,
		Unit:     profile.Unit,
	}), nil
}

func (s *Service) Export(ctx context.Context, userID, sessionID string, format export.Format) ([]byte, error) {
	rec, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	ride := export.Ride{
		ID:        rec.ID,
		StartTime: rec.StartTime,
		Route:     rec.Route,
		Stats:     rec.Stats(),
	}
	if rec.EndTime != nil {
		ride.EndTime = *rec.EndTime
	}
	return export.Encode(format, ride)
}

func (s *Service) Totals(ctx context.Context, userID string) (UserAggregate, error) {
	agg, err := s.gateway.UserAggregate(ctx, userID)
	if err != nil {
		return UserAggregate{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return agg, nil
}

// unitOr parses raw, falling back to the rider's unit when it is empty.
func unitOr(raw string, fallback geo.Unit) geo.Unit {
	if raw == "" {
		return fallback
	}
	return geo.ParseUnit(raw)
}
