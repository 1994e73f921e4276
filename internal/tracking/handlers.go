package tracking

import (
	"errors"
	"fmt"
	"math"

	"backend-cycletracker/internal/export"
	"backend-cycletracker/internal/location"
	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/stats"

	"github.com/gofiber/fiber/v2"
)

type permissionRequest struct {
	Granted bool `json:"granted"`
}

// samplesRequest accepts either a bare sample or a batch under "samples".
type samplesRequest struct {
	geo.Sample
	Samples []geo.Sample `json:"samples"`
}

func RegisterRoutes(r fiber.Router, mgr *Manager, svc *Service, sources *location.Registry, authMiddleware fiber.Handler) {
	r.Use(authMiddleware)

	r.Post("/permission", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		var req permissionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		sources.Source(userID).SetPermission(req.Granted)
		return c.JSON(fiber.Map{"granted": req.Granted})
	})

	r.Post("/samples", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		var req samplesRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		batch := req.Samples
		if len(batch) == 0 {
			batch = []geo.Sample{req.Sample}
		}
		for i := range batch {
			if err := validateSample(&batch[i]); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		src := sources.Source(userID)
		for _, s := range batch {
			src.Push(s)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": len(batch)})
	})

	r.Get("/session", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		snap := mgr.Controller(c.Context(), userID).Snapshot()
		return c.JSON(withUnit(snap, c.Query("unit")))
	})

	transition := func(name string, fn func(*Controller, *fiber.Ctx) (Snapshot, error)) {
		r.Post("/session/"+name, func(c *fiber.Ctx) error {
			userID, err := currentUser(c)
			if err != nil {
				return err
			}
			ctrl := mgr.RefreshProfile(c.Context(), userID)
			snap, err := fn(ctrl, c)
			if err != nil {
				return httpError(err)
			}
			return c.JSON(withUnit(snap, c.Query("unit")))
		})
	}
	transition("start", func(ctrl *Controller, c *fiber.Ctx) (Snapshot, error) { return ctrl.Start(c.Context()) })
	transition("pause", func(ctrl *Controller, c *fiber.Ctx) (Snapshot, error) { return ctrl.Pause(c.Context()) })
	transition("resume", func(ctrl *Controller, c *fiber.Ctx) (Snapshot, error) { return ctrl.Resume(c.Context()) })
	transition("discard", func(ctrl *Controller, c *fiber.Ctx) (Snapshot, error) { return ctrl.Discard(c.Context()) })

	r.Post("/session/stop", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		ctrl := mgr.RefreshProfile(c.Context(), userID)
		rec, err := ctrl.Stop(c.Context())
		if err != nil {
			return httpError(err)
		}
		profile := mgr.Profile(c.Context(), userID)
		view := stats.Present(rec.Stats(), unitOr(c.Query("unit"), profile.Unit))
		return c.JSON(fiber.Map{"record": rec, "view": view})
	})

	r.Get("/sessions", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		recs, err := svc.History(c.Context(), userID, c.QueryInt("limit", 0))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(recs)
	})

	r.Delete("/sessions/:id", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		if err := svc.Delete(c.Context(), userID, c.Params("id")); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/sessions/:id/analysis", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		profile := mgr.Profile(c.Context(), userID)
		profile.Unit = unitOr(c.Query("unit"), profile.Unit)
		view, err := svc.Analysis(c.Context(), userID, c.Params("id"), profile)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(view)
	})

	r.Get("/sessions/:id/export", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		format, ok := export.ParseFormat(c.Query("format"))
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "format must be gpx or fit")
		}
		id := c.Params("id")
		data, err := svc.Export(c.Context(), userID, id, format)
		if err != nil {
			return httpError(err)
		}
		c.Set(fiber.HeaderContentType, format.ContentType())
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="ride-%s.%s"`, id, format))
		return c.Send(data)
	})

	r.Get("/totals", func(c *fiber.Ctx) error {
		userID, err := currentUser(c)
		if err != nil {
			return err
		}
		agg, err := svc.Totals(c.Context(), userID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(agg)
	})
}

func currentUser(c *fiber.Ctx) (string, error) {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "missing user")
	}
	return userID, nil
}

func withUnit(snap Snapshot, raw string) Snapshot {
	if raw != "" {
		snap.View = stats.Present(snap.Stats, geo.ParseUnit(raw))
	}
	return snap
}

// validateSample rejects out-of-range positions. Negative speeds mean the
// device had no fix for speed and are treated as zero.
func validateSample(s *geo.Sample) error {
	if math.Abs(s.Latitude) > 90 || math.Abs(s.Longitude) > 180 {
		return errors.New("coordinates out of range")
	}
	if s.Latitude == 0 && s.Longitude == 0 {
		return errors.New("latitude and longitude required")
	}
	if s.TimestampMs <= 0 {
		return errors.New("timestamp required")
	}
	if s.SpeedMps < 0 || math.IsNaN(s.SpeedMps) {
		s.SpeedMps = 0
	}
	return nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, location.ErrPermissionDenied), errors.Is(err, ErrNotAuthorized):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, location.ErrLocationUnavailable), errors.Is(err, ErrPersistenceUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, export.ErrEmptyRoute):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
