package server

import (
	"log"
	"time"

	"backend-cycletracker/internal/auth"
	"backend-cycletracker/internal/config"
	"backend-cycletracker/internal/location"
	"backend-cycletracker/internal/recovery"
	"backend-cycletracker/internal/stream"
	"backend-cycletracker/internal/tracking"

	"cloud.google.com/go/firestore"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// recoveryTTL bounds how long an interrupted ride stays resumable in Redis.
const recoveryTTL = 7 * 24 * time.Hour

// Backends are the connections opened by cmd/api. Any of them may be nil;
// the server falls back to in-process implementations.
type Backends struct {
	Postgres  *pgxpool.Pool
	Redis     *redis.Client
	SQLite    *gorm.DB
	Firestore *firestore.Client
	Verifier  auth.TokenVerifier
}

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	Backends Backends
	Stream   *stream.Hub
	Sources  *location.Registry
	Tracker  *tracking.Manager
	Rides    *tracking.Service
	Auth     *auth.Service
	Gateway  tracking.Gateway
}

func NewServer(cfg config.Config, b Backends) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:      app,
		Cfg:      cfg,
		Backends: b,
		Stream:   stream.NewHub(b.Redis),
		Sources:  location.NewRegistry(),
	}
	if b.Postgres != nil {
		s.Auth = auth.NewService(cfg.JWTSecret, b.Postgres)
	}

	gateway := newGateway(cfg, b)
	s.Gateway = gateway
	s.Rides = tracking.NewService(gateway, cfg.HistoryLimit)
	s.Tracker = tracking.NewManager(tracking.ManagerDeps{
		Sources:     func(userID string) location.Source { return s.Sources.Source(userID) },
		Gateway:     gateway,
		Cache:       newRecoveryCache(cfg, b),
		Broadcaster: s.Stream,
		Profiles:    newProfiles(s.Auth),
	}, trackerConfig(cfg))

	registerRoutes(s)
	return s
}

// Close stops every ride controller, leaving recovery markers for the next
// process, and tears down the stream hub.
func (s *Server) Close() {
	s.Tracker.Close()
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	if s.Backends.Verifier != nil {
		authMiddleware = auth.FirebaseMiddleware(s.Backends.Verifier)
	}

	if s.Auth != nil {
		auth.RegisterRoutes(s.App.Group("/auth"), s.Auth, authMiddleware)
	}
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracker, s.Rides, s.Sources, authMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, s.Gateway, authMiddleware)
}

func newGateway(cfg config.Config, b Backends) tracking.Gateway {
	switch {
	case cfg.StoreBackend == config.StoreFirestore && b.Firestore != nil:
		return tracking.NewFirestoreGateway(b.Firestore)
	case b.Postgres != nil:
		return tracking.NewStore(b.Postgres)
	}
	log.Printf("no ride store configured, keeping rides in memory")
	return tracking.NewMemoryGateway()
}

func newRecoveryCache(cfg config.Config, b Backends) recovery.Cache {
	if cfg.RecoveryBackend == config.RecoverySQLite && b.SQLite != nil {
		cache, err := recovery.NewSQLiteCache(b.SQLite)
		if err == nil {
			return cache
		}
		log.Printf("sqlite recovery cache unavailable: %v", err)
	}
	if b.Redis != nil {
		return recovery.NewRedisCache(b.Redis, recoveryTTL)
	}
	return recovery.NewMemoryCache()
}

func trackerConfig(cfg config.Config) tracking.Config {
	return tracking.Config{
		CheckpointEvery: cfg.CheckpointEvery,
		LocationTimeout: cfg.LocationTimeout,
		Location: location.Options{
			Accuracy:     location.AccuracyHigh,
			MinInterval:  time.Duration(cfg.LocationMinIntervalMs) * time.Millisecond,
			MinDistanceM: cfg.LocationMinDistanceM,
		},
		Profile: tracking.Profile{WeightKg: cfg.DefaultWeightKg},
	}
}
