package stream

import (
	"context"
	"errors"

	"backend-cycletracker/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// SessionLookup resolves a ride so only its rider can watch it live.
type SessionLookup interface {
	GetSession(ctx context.Context, id string) (tracking.SessionRecord, error)
}

// RegisterRoutes serves /ws/:sessionID. Each connection receives the ride's
// live view as JSON text frames until either side closes.
func RegisterRoutes(r fiber.Router, hub *Hub, sessions SessionLookup, authMiddleware fiber.Handler) {
	r.Use(authMiddleware)
	r.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})

	r.Get("/ws/:sessionID", requireOwner(sessions), websocket.New(func(c *websocket.Conn) {
		client := hub.Register(c.Params("sessionID"))
		defer hub.Unregister(client)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}))
}

func requireOwner(sessions SessionLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if userID == "" {
			return fiber.ErrUnauthorized
		}
		rec, err := sessions.GetSession(c.UserContext(), c.Params("sessionID"))
		switch {
		case errors.Is(err, tracking.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "session not found")
		case err != nil:
			return fiber.NewError(fiber.StatusServiceUnavailable, tracking.ErrPersistenceUnavailable.Error())
		case rec.UserID != userID:
			return fiber.NewError(fiber.StatusForbidden, tracking.ErrNotAuthorized.Error())
		}
		return c.Next()
	}
}
