package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pyconau/precord/internal/api"
	"github.com/pyconau/precord/internal/breaker"
	"github.com/pyconau/precord/internal/config"
	"github.com/pyconau/precord/internal/discord"
	"github.com/pyconau/precord/internal/enroll"
	"github.com/pyconau/precord/internal/pretix"
	"github.com/pyconau/precord/internal/store"
	"github.com/pyconau/precord/internal/telemetry"
)

const otelShutdownTimeout = 5 * time.Second

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE and referenced by
// serve.go, migrate.go, and monitor.go.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	store        *store.Store
	enrol        *enroll.Service
	router       *api.Router
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates one circuit breaker per upstream
//  3. Connects the store and builds the Pretix and Discord clients
//  4. Creates the enrolment service
//  5. Creates the HTTP router
//
// A failure here aborts the process before any listener is bound.
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	// OTEL is best-effort: a missing collector must never block startup.
	// When OTLPEndpoint is empty, telemetry is disabled entirely to avoid
	// the SDK's periodic-reader noise when no collector is running locally.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Info("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(
			ctx,
			cfg.Telemetry.OTLPEndpoint,
			cfg.Telemetry.ServiceName,
			cfg.Telemetry.OTLPInsecure,
		)
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
		}
	}

	// One circuit breaker per upstream so each dependency trips independently.
	st, err := store.Connect(ctx, cfg.Database, breaker.New("postgres"))
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	app.store = st

	ticketOffice, err := pretix.New(cfg.Pretix, breaker.New("pretix"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("building pretix client: %w", err)
	}

	guild := discord.New(cfg.Discord, breaker.New("discord"))

	app.enrol = enroll.New(st, ticketOffice, guild, cfg.Enroll.StateTokenLifetime)
	app.router = api.NewRouter(app.enrol, cfg.Telemetry.ServiceName)

	return app, nil
}

// Close releases the pooled database connections and flushes telemetry.
func (a *AppContext) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.otelProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := a.otelProvider.Shutdown(ctx); err != nil {
			slog.Warn("OTEL shutdown error", "err", err)
		}
	}
}
