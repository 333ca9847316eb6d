package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendsync/internal/attendance"
	"attendsync/internal/backend"
	"attendsync/internal/broadcast"
	"attendsync/internal/buffer"
	"attendsync/internal/config"
	"attendsync/internal/db"
	"attendsync/internal/events"
	"attendsync/internal/mirror"
	"attendsync/internal/optimistic"
	"attendsync/internal/wshub"
)

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /users/{user}/classes", s.handleClasses)
	mux.HandleFunc("POST /users/{user}/classes/{class}/check-in", s.handleCheckIn)
	mux.HandleFunc("POST /users/{user}/classes/{class}/absent", s.handleMarkAbsent)
	mux.HandleFunc("POST /users/{user}/sync", s.handleSync)
	mux.HandleFunc("GET /users/{user}/ws", s.handleWS)
	return mux
}

// Run serves until ctx is done, then drains the write buffer.
func Run(ctx context.Context, cfg config.Config) error {
	var mirrorBackend mirror.Backend
	var database *db.DB

	// Optional database connection
	if cfg.DatabaseURL != "" {
		d, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer d.Close()
		if err := d.Migrate(); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		log.Println("[DB] Database connected and migrations applied")
		database = d
		mirrorBackend = d.Mirror()
	} else {
		log.Println("[DB] DATABASE_URL not set, mirror documents are kept in memory")
		mirrorBackend = mirror.NewMemoryBackend()
	}

	store := mirror.NewStore(mirrorBackend, cfg.MirrorMaxAttempts)
	writes := buffer.New(store, buffer.Config{Debounce: cfg.Debounce, Interval: cfg.FlushInterval})
	client := backend.New(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTimeout)
	bus := events.NewBus()
	broadcaster := broadcast.NewBroadcaster(bus)
	hub := wshub.NewHub()

	srv := &Server{
		Orchestrator: attendance.New(client, store, writes, cfg.Location),
		Cache:        optimistic.New(client, bus, cfg.Location),
		Hub:          hub,
		DB:           database,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go writes.Run(bgCtx)
	updates := broadcaster.Subscribe()
	go hub.Forward(bgCtx, updates)

	httpSrv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Server listening on http://localhost:%s\n", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Println("[Server] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Server] Shutdown error: %v\n", err)
		}
	}

	stopBackground()
	broadcaster.Unsubscribe(updates)

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := writes.FlushAll(flushCtx); err != nil {
		return fmt.Errorf("flushing pending writes on shutdown: %w", err)
	}
	log.Println("[Buffer] Pending writes flushed")
	return nil
}
