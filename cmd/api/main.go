package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-cycletracker/internal/auth"
	"backend-cycletracker/internal/config"
	"backend-cycletracker/internal/db"
	"backend-cycletracker/internal/server"

	firebase "firebase.google.com/go/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectSQLite   func(config.Config) (*gorm.DB, error)
	connectFirebase func(context.Context, config.Config) (*firebase.App, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, server.Backends, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectSQLite:   db.ConnectSQLite,
		connectFirebase: db.ConnectFirebase,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	ctx := context.Background()
	cfg := deps.loadConfig()

	var b server.Backends
	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed: %v", err)
	}
	b.Postgres = pg
	b.Redis = deps.connectRedis(cfg)

	if cfg.RecoveryBackend == config.RecoverySQLite {
		if b.SQLite, err = deps.connectSQLite(cfg); err != nil {
			log.Printf("sqlite open failed: %v", err)
		}
	}

	app, err := deps.connectFirebase(ctx, cfg)
	if err != nil {
		log.Printf("firebase init failed: %v", err)
	}
	if app != nil {
		if b.Verifier, err = auth.NewFirebaseVerifier(ctx, app); err != nil {
			log.Printf("firebase auth unavailable: %v", err)
		}
		if cfg.StoreBackend == config.StoreFirestore {
			if b.Firestore, err = db.ConnectFirestore(ctx, app); err != nil {
				log.Printf("firestore unavailable: %v", err)
			}
		}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, b, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, b server.Backends, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, b)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		srv.Close()
		return err
	}
	srv.Close()
	closeBackends(b)
	return nil
}

func closeBackends(b server.Backends) {
	if b.Postgres != nil {
		b.Postgres.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.SQLite != nil {
		if sqlDB, err := b.SQLite.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if b.Firestore != nil {
		_ = b.Firestore.Close()
	}
}
