package server

import (
	"context"
	"errors"

	"backend-cycletracker/internal/auth"
	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/tracking"
)

// profiles reads rider settings from the auth store for the tracker.
type profiles struct {
	svc *auth.Service
}

func newProfiles(svc *auth.Service) tracking.ProfileLookup {
	if svc == nil {
		return nil
	}
	return profiles{svc: svc}
}

func (p profiles) Profile(ctx context.Context, userID string) (tracking.Profile, error) {
	settings, err := p.svc.Settings(ctx, userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return tracking.Profile{}, nil
	}
	if err != nil {
		return tracking.Profile{}, err
	}
	return tracking.Profile{WeightKg: settings.WeightKg, Unit: geo.ParseUnit(settings.Unit)}, nil
}
