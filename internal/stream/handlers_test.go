package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-cycletracker/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

func asUser(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		return c.Next()
	}
}

func newRide(t *testing.T, g *tracking.MemoryGateway, userID string) string {
	t.Helper()
	id, err := g.CreateSession(context.Background(), userID, time.Now())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

func upgradeRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

// serve starts the app on a loopback listener and returns its ws base URL.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	g := tracking.NewMemoryGateway()
	id := newRide(t, g, "user-1")
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil), g, asUser("user-1"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream/ws/"+id, nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 for non-websocket request, got %d", resp.StatusCode)
	}
}

func TestStreamHandlersRequireAuth(t *testing.T) {
	g := tracking.NewMemoryGateway()
	app := fiber.New()
	deny := func(c *fiber.Ctx) error { return fiber.ErrUnauthorized }
	RegisterRoutes(app.Group("/stream"), NewHub(nil), g, deny)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream/ws/session-1", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

type downLookup struct{}

func (downLookup) GetSession(context.Context, string) (tracking.SessionRecord, error) {
	return tracking.SessionRecord{}, errors.New("gateway down")
}

func TestStreamHandlersOwnerOnly(t *testing.T) {
	g := tracking.NewMemoryGateway()
	id := newRide(t, g, "user-1")

	tests := []struct {
		name     string
		user     string
		sessions SessionLookup
		path     string
		want     int
	}{
		{"other rider", "user-2", g, "/stream/ws/" + id, http.StatusForbidden},
		{"no user", "", g, "/stream/ws/" + id, http.StatusUnauthorized},
		{"missing ride", "user-1", g, "/stream/ws/missing", http.StatusNotFound},
		{"gateway down", "user-1", downLookup{}, "/stream/ws/" + id, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(nil)
			app := fiber.New()
			RegisterRoutes(app.Group("/stream"), hub, tt.sessions, asUser(tt.user))

			resp, err := app.Test(upgradeRequest(tt.path))
			if err != nil {
				t.Fatalf("request error: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
			if hub.Viewers(id) != 0 {
				t.Fatalf("rejected viewer must not be registered")
			}
		})
	}
}

func TestStreamHandlersForeignDialRejected(t *testing.T) {
	g := tracking.NewMemoryGateway()
	id := newRide(t, g, "user-1")
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil), g, asUser("user-2"))
	base := serve(t, app)

	conn, resp, err := websocket.DefaultDialer.Dial(base+"/stream/ws/"+id, nil)
	if err == nil {
		conn.Close()
		t.Fatalf("expected dial to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %v", resp)
	}
}

func TestStreamHandlersWebsocketBroadcast(t *testing.T) {
	g := tracking.NewMemoryGateway()
	id := newRide(t, g, "user-1")
	hub := NewHub(nil)
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, g, asUser("user-1"))
	base := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/"+id, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	waitViewers(t, hub, id, 1)
	hub.Broadcast(id, []byte(`{"state":"active"}`))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != `{"state":"active"}` {
		t.Fatalf("unexpected message")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("client")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	conn.Close()
	waitViewers(t, hub, id, 0)
}

func waitViewers(t *testing.T, hub *Hub, sessionID string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.Viewers(sessionID) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d viewers, got %d", n, hub.Viewers(sessionID))
}

func TestStreamHandlersWebsocketWriteError(t *testing.T) {
	g := tracking.NewMemoryGateway()
	id := newRide(t, g, "user-1")
	hub := NewHub(nil)
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, g, asUser("user-1"))
	base := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/"+id, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	conn.Close()

	hub.Broadcast(id, []byte("ping"))
	waitViewers(t, hub, id, 0)
}

func TestStreamHandlersWebsocketCloseMessage(t *testing.T) {
	g := tracking.NewMemoryGateway()
	id := newRide(t, g, "user-1")
	hub := NewHub(nil)
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, g, asUser("user-1"))
	base := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/"+id, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	hub.Broadcast(id, []byte("ping"))
	waitViewers(t, hub, id, 0)
}
