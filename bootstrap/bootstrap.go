// Package bootstrap wires configuration, stores, services and the HTTP
// server into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apimarket/metergate/adapters/clock"
	apihttp "github.com/apimarket/metergate/adapters/http"
	"github.com/apimarket/metergate/adapters/idgen"
	"github.com/apimarket/metergate/adapters/memory"
	"github.com/apimarket/metergate/adapters/metrics"
	"github.com/apimarket/metergate/adapters/postgres"
	"github.com/apimarket/metergate/adapters/provider"
	"github.com/apimarket/metergate/adapters/redis"
	"github.com/apimarket/metergate/adapters/sqlite"
	"github.com/apimarket/metergate/app"
	"github.com/apimarket/metergate/config"
	"github.com/apimarket/metergate/domain/listing"
	"github.com/apimarket/metergate/ports"
	"github.com/rs/zerolog"
)

// App holds the assembled application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Gateway   *app.GatewayService
	Dashboard *app.DashboardService

	Profiles ports.ProfileStore
	Listings ports.ListingStore
	Ledger   ports.UsageStore

	sqliteDB    *sqlite.DB
	postgresDB  *postgres.DB
	redisWindow *redis.RateWindow
}

// New assembles the application from a loaded configuration holder.
func New(holder *config.Holder) (*App, error) {
	cfg := holder.Get()
	logger := NewLogger(cfg.Logging)

	a := &App{
		Logger: logger,
		Config: holder,
	}

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("rate_window", cfg.RateWindow.Backend).
		Str("provider", cfg.Provider.Mode).
		Msg("initializing metergate")

	if err := a.initStores(cfg); err != nil {
		return nil, err
	}

	window, err := a.initRateWindow(cfg)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	dispatcher, err := initProvider(cfg)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	recorder := app.NewRecorder(a.Ledger, logger, a.Metrics, app.RecorderConfig{
		MaxAttempts: cfg.Recorder.MaxAttempts,
		BaseBackoff: cfg.Recorder.BaseBackoff,
	})
	a.Gateway = app.NewGatewayService(app.GatewayDeps{
		Profiles: a.Profiles,
		Listings: a.Listings,
		Window:   window,
		Provider: dispatcher,
		Recorder: recorder,
		Clock:    clock.Real{},
		IDGen:    idgen.UUID{},
		Logger:   logger,
		Metrics:  a.Metrics,
	}, app.GatewayConfig{KeyMarker: cfg.Auth.KeyMarker})
	a.Dashboard = app.NewDashboardService(app.DashboardDeps{
		Profiles: a.Profiles,
		Listings: a.Listings,
		Ledger:   a.Ledger,
		Logger:   logger,
	})

	if err := a.seedListings(context.Background(), cfg.Listings); err != nil {
		a.closeStores()
		return nil, fmt.Errorf("seed listings: %w", err)
	}

	// Apply the reloadable parts of a fresh config without a restart.
	holder.OnChange(func(c *config.Config) {
		if lvl, err := zerolog.ParseLevel(c.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
		recorder.Retune(app.RecorderConfig{
			MaxAttempts: c.Recorder.MaxAttempts,
			BaseBackoff: c.Recorder.BaseBackoff,
		})
		if err := a.seedListings(context.Background(), c.Listings); err != nil {
			logger.Error().Err(err).Msg("reseeding listings from reloaded config failed")
		}
	})

	handler := apihttp.NewHandler(a.Gateway, a.Dashboard, logger, a.Metrics)
	router := apihttp.NewRouter(handler, logger, apihttp.RouterConfig{Metrics: a.Metrics})
	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

func (a *App) initStores(cfg *config.Config) error {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate sqlite: %w", err)
		}
		a.sqliteDB = db
		a.Profiles = sqlite.NewProfileStore(db)
		a.Listings = sqlite.NewListingStore(db)
		a.Ledger = sqlite.NewUsageStore(db)

	case "postgres":
		db, err := postgres.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate postgres: %w", err)
		}
		a.postgresDB = db
		a.Profiles = postgres.NewProfileStore(db)
		a.Listings = postgres.NewListingStore(db)
		a.Ledger = postgres.NewUsageStore(db)

	case "memory":
		a.Profiles = memory.NewProfileStore()
		a.Listings = memory.NewListingStore()
		a.Ledger = memory.NewUsageStore()

	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	a.Logger.Info().Str("driver", cfg.Database.Driver).Msg("stores initialized")
	return nil
}

func (a *App) initRateWindow(cfg *config.Config) (ports.RateWindowStore, error) {
	switch cfg.RateWindow.Backend {
	case "redis":
		w, err := redis.NewRateWindow(cfg.RateWindow.RedisAddr, cfg.RateWindow.TTL)
		if err != nil {
			return nil, fmt.Errorf("init redis rate window: %w", err)
		}
		a.redisWindow = w
		return w, nil

	case "memory":
		// Seeding from the ledger lets a restarted instance keep
		// enforcing caps against calls admitted before the restart.
		return memory.NewRateWindow(memory.RateWindowConfig{Ledger: a.Ledger}), nil

	default:
		return nil, fmt.Errorf("unknown rate window backend %q", cfg.RateWindow.Backend)
	}
}

func initProvider(cfg *config.Config) (ports.Provider, error) {
	switch cfg.Provider.Mode {
	case "http":
		return provider.NewHTTPDispatcher(provider.HTTPConfig{
			BaseURL: cfg.Provider.BaseURL,
			Timeout: cfg.Provider.Timeout,
		})
	case "static":
		return provider.Static{}, nil
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Provider.Mode)
	}
}

// seedListings upserts configured catalog entries, at startup and on
// config reload.
func (a *App) seedListings(ctx context.Context, entries []config.ListingConfig) error {
	now := time.Now().UTC()
	for _, e := range entries {
		status := listing.Status(e.Status)
		if e.Status == "" {
			status = listing.StatusActive
		}
		l := listing.Listing{
			ID:         e.ID,
			Name:       e.Name,
			Version:    e.Version,
			Status:     status,
			RateCap:    e.RateCap,
			CreditCost: e.CreditCost,
			Endpoint: listing.EndpointSpec{
				Method: strings.ToUpper(e.Method),
				Path:   e.Path,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if l.Endpoint.Method == "" {
			l.Endpoint.Method = "GET"
		}
		if l.Endpoint.Path == "" {
			l.Endpoint.Path = "/"
		}

		err := a.Listings.Update(ctx, l)
		if err == nil {
			continue
		}
		if err := a.Listings.Create(ctx, l); err != nil {
			return fmt.Errorf("listing %s: %w", e.ID, err)
		}
		a.Logger.Info().Str("api_id", e.ID).Msg("seeded listing")
	}
	return nil
}

// Run starts the HTTP server and blocks until a signal or server error.
func (a *App) Run() error {
	a.Config.WatchSignals()
	if err := a.Config.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.Config.Stop()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	a.closeStores()

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) closeStores() {
	if a.redisWindow != nil {
		if err := a.redisWindow.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}
	if a.sqliteDB != nil {
		if err := a.sqliteDB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("sqlite close error")
		}
	}
	if a.postgresDB != nil {
		if err := a.postgresDB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("postgres close error")
		}
	}
}

// NewLogger builds the root logger from logging config.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
