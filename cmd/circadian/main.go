package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/circadianhq/circadian/internal/adapter/anthropic"
	"github.com/circadianhq/circadian/internal/adapter/browser"
	"github.com/circadianhq/circadian/internal/adapter/httpapi"
	cnats "github.com/circadianhq/circadian/internal/adapter/nats"
	"github.com/circadianhq/circadian/internal/adapter/natskv"
	"github.com/circadianhq/circadian/internal/adapter/openai"
	cotel "github.com/circadianhq/circadian/internal/adapter/otel"
	"github.com/circadianhq/circadian/internal/adapter/platform/dryrun"
	"github.com/circadianhq/circadian/internal/adapter/postgres"
	"github.com/circadianhq/circadian/internal/adapter/ristretto"
	"github.com/circadianhq/circadian/internal/adapter/sqlite"
	"github.com/circadianhq/circadian/internal/adapter/tiered"
	"github.com/circadianhq/circadian/internal/adapter/ws"
	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain/account"
	"github.com/circadianhq/circadian/internal/logger"
	"github.com/circadianhq/circadian/internal/middleware"
	"github.com/circadianhq/circadian/internal/port/broadcast"
	"github.com/circadianhq/circadian/internal/port/cache"
	"github.com/circadianhq/circadian/internal/port/modelbackend"
	"github.com/circadianhq/circadian/internal/port/notifier"
	"github.com/circadianhq/circadian/internal/port/session"
	"github.com/circadianhq/circadian/internal/port/store"
	"github.com/circadianhq/circadian/internal/secrets"
	"github.com/circadianhq/circadian/internal/service"
)

const serviceName = "circadian"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if err := run(flags); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(flags *config.CLIFlags) error {
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logClose := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logClose.Close()

	log.Info("config loaded",
		"path", path,
		"port", cfg.API.Port,
		"store", cfg.Store.Driver,
		"accounts", len(cfg.Accounts),
	)

	ctx := context.Background()

	// --- Persistence ---

	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		st = postgres.NewStore(pool)
		log.Info("postgres connected")
	default:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		defer func() { _ = db.Close() }()
		st = db
		log.Info("sqlite opened", "path", cfg.SQLite.Path)
	}

	// --- Model backends ---

	vault, err := secrets.NewVault(secrets.EnvLoader("OPENAI_API_KEY", "ANTHROPIC_API_KEY", "CIRCADIAN_SEAL_KEY"))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	backends, err := buildBackends(cfg, vault)
	if err != nil {
		return err
	}

	// --- Decision cache ---

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	var decisionCache cache.Cache = l1

	// --- NATS (optional: audit stream + shared L2 cache) ---

	var queue *cnats.Conn
	if cfg.NATS.URL != "" {
		queue, err = cnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		log.Info("nats connected", "url", cfg.NATS.URL)

		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		decisionCache = tiered.New(l1, natskv.New(kv), cfg.Brain.CacheTTL)
	}

	// --- Live feed ---

	hub := ws.NewHub()
	casters := broadcast.Fanout{hub}
	if queue != nil {
		casters = append(casters, queue)
	}

	// --- Operator notifications ---

	var notify notifier.Notifier
	if cfg.Telegram.Token != "" {
		notify, err = notifier.New("telegram", map[string]string{
			"token":   cfg.Telegram.Token,
			"chat_id": strconv.FormatInt(cfg.Telegram.ChatID, 10),
		})
		if err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
		log.Info("operator notifications enabled", "provider", "telegram")
	}

	// --- Telemetry ---

	otelShutdown, err := cotel.Setup(ctx, cfg.Metrics, serviceName)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Platform sessions ---

	var sessions service.SessionFactory
	if cfg.Browser.Enabled {
		// CIRCADIAN_SEAL_KEY must match the passphrase used by
		// `circadian admin set-credential`.
		pool := browser.NewPool(cfg.Browser, st, vault.Get("CIRCADIAN_SEAL_KEY"), log)
		sessions = func(acct account.Account) session.Lifecycle {
			return pool.Session(acct.ID)
		}
		log.Info("browser sessions enabled", "headless", cfg.Browser.Headless)
	}

	actor := dryrun.New(2*time.Second, 10*time.Second, 0.05, 0)

	// --- Account loops ---

	mgr, err := service.NewManager(service.ManagerDeps{
		Config:    cfg,
		Store:     st,
		Backends:  backends,
		Cache:     decisionCache,
		Actor:     actor,
		Sessions:  sessions,
		Notifier:  notify,
		Broadcast: casters,
		Metrics:   metrics,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}

	if err := mgr.StartAll(ctx); err != nil {
		// The daemon stays up so the operator can inspect state and
		// retry via the control API.
		log.Error("some accounts failed to start", "error", err)
	}

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(httpapi.CORS(cfg.API.CORSOrigin))
	r.Use(httpapi.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Handler)
	r.Use(middleware.BearerAuth(cfg.API.Token))
	r.Use(cotel.HTTPMiddleware(serviceName))

	r.Get("/health", healthHandler(cfg.Store.Driver, queue, mgr))
	r.Get("/ws", hub.HandleWS)
	httpapi.MountRoutes(r, &httpapi.Handlers{Manager: mgr})

	addr := ":" + cfg.API.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("status api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case sig := <-done:
			log.Info("shutdown signal", "signal", sig.String())
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := mgr.Shutdown(shutdownCtx); err != nil {
			log.Error("manager shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildBackends constructs one model backend per provider named in the
// brain tiers. API keys come from the environment via the vault; a tier
// whose provider has no key fails startup loudly rather than at the
// first decision.
func buildBackends(cfg *config.Config, vault *secrets.Vault) (map[string]modelbackend.Backend, error) {
	backends := make(map[string]modelbackend.Backend)
	for _, tier := range []config.Tier{cfg.Brain.Fast, cfg.Brain.Mid, cfg.Brain.Smart} {
		if _, ok := backends[tier.Backend]; ok {
			continue
		}
		switch tier.Backend {
		case "openai":
			b, err := openai.New(vault.Get("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"))
			if err != nil {
				return nil, fmt.Errorf("openai backend: %w", err)
			}
			backends[tier.Backend] = b
		case "anthropic":
			b, err := anthropic.New(vault.Get("ANTHROPIC_API_KEY"), os.Getenv("ANTHROPIC_BASE_URL"))
			if err != nil {
				return nil, fmt.Errorf("anthropic backend: %w", err)
			}
			backends[tier.Backend] = b
		default:
			return nil, fmt.Errorf("brain tier references unknown backend %q", tier.Backend)
		}
	}
	return backends, nil
}

// healthHandler reports daemon liveness plus coarse component state.
func healthHandler(driver string, queue *cnats.Conn, mgr *service.Manager) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Store    string `json:"store"`
		NATS     string `json:"nats,omitempty"`
		Accounts int    `json:"accounts_running"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{Status: "ok", Store: driver}
		if queue != nil {
			status.NATS = "connected"
			if !queue.IsConnected() {
				status.NATS = "disconnected"
			}
		}
		for _, a := range mgr.Accounts() {
			if a.State != service.StateIdle && a.State != service.StateStopped {
				status.Accounts++
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
