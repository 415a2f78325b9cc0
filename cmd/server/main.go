package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/procurement-engine/internal/agent"
	"github.com/atmx/procurement-engine/internal/bus"
	"github.com/atmx/procurement-engine/internal/config"
	"github.com/atmx/procurement-engine/internal/facts"
	"github.com/atmx/procurement-engine/internal/metrics"
	"github.com/atmx/procurement-engine/internal/procurement"
	"github.com/atmx/procurement-engine/internal/ratelimit"
	"github.com/atmx/procurement-engine/internal/reasoning"
	"github.com/atmx/procurement-engine/internal/reputation"
	"github.com/atmx/procurement-engine/internal/store"
)

const buyerName = "buyer"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			slog.Error("database ping failed", "err", err)
			os.Exit(1)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Reasoning ---
	limiter := ratelimit.New(ratelimit.WithDefaults(cfg.RateLimits), ratelimit.WithLogger(logger))
	router := reasoning.NewRouter(map[reasoning.Role]reasoning.Route{
		reasoning.RoleBuyer: {
			Primary:  reasoning.Target{Provider: cfg.BuyerPrimary.Provider, Model: cfg.BuyerPrimary.Name},
			Fallback: reasoning.Target{Provider: cfg.BuyerFallback.Provider, Model: cfg.BuyerFallback.Name},
		},
		reasoning.RoleSeller: {
			Primary:  reasoning.Target{Provider: cfg.SellerPrimary.Provider, Model: cfg.SellerPrimary.Name},
			Fallback: reasoning.Target{Provider: cfg.SellerFallback.Provider, Model: cfg.SellerFallback.Name},
		},
	}, backendOptions(cfg, limiter, logger)...)

	// --- Agents ---
	msgBus := bus.New(bus.WithLogger(logger))
	coord := bus.NewCoordinator(msgBus, logger)
	if err := coord.Start(ctx); err != nil {
		slog.Error("coordinator start failed", "err", err)
		os.Exit(1)
	}

	wsHub := procurement.NewWSHub()
	go wsHub.Run(ctx)

	catalogs := facts.DemoCatalogs()
	if cfg.SellerCatalog != "" {
		if catalogs, err = facts.LoadCatalogs(cfg.SellerCatalog); err != nil {
			slog.Error("seller catalog load failed", "path", cfg.SellerCatalog, "err", err)
			os.Exit(1)
		}
	}
	for _, c := range catalogs {
		s := agent.NewSeller(agent.SellerConfig{
			Name:      c.Seller,
			Facts:     c,
			Reasoner:  router,
			Bus:       msgBus,
			Events:    wsHub,
			MaxRounds: cfg.MaxRounds,
			Logger:    logger,
		})
		if err := s.Start(ctx); err != nil {
			slog.Error("seller start failed", "seller", c.Seller, "err", err)
			os.Exit(1)
		}
	}

	memory := reputation.NewMemory(buyerName, st, logger)
	if err := memory.Load(ctx); err != nil {
		slog.Error("buyer memory load failed", "err", err)
		os.Exit(1)
	}
	windows := agent.Windows{
		Quote:     cfg.QuoteWindow,
		Extension: cfg.QuoteExtension,
		Round:     cfg.RoundWindow,
		Finalize:  cfg.FinalizeWindow,
		MaxRounds: cfg.MaxRounds,
	}
	buyer := agent.NewBuyer(agent.BuyerConfig{
		Name:     buyerName,
		Bus:      msgBus,
		Reasoner: router,
		Memory:   memory,
		Store:    st,
		Events:   wsHub,
		Windows:  windows,
		Logger:   logger,
	})
	if err := buyer.Start(ctx); err != nil {
		slog.Error("buyer start failed", "err", err)
		os.Exit(1)
	}

	svc := procurement.NewService(buyer, st, memory, limiter, coord.Sellers)

	// A request may run a whole procurement.
	requestBudget := windows.Quote + windows.Extension + time.Duration(windows.MaxRounds)*windows.Round +
		windows.Finalize + 30*time.Second

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(requestBudget))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"procurement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of negotiation events.
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestBudget + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("procurement-engine listening", "port", cfg.Port, "sellers", len(catalogs))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down procurement-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	fmt.Println("procurement-engine stopped")
}

// backendOptions registers an OpenAI-compatible backend for every provider
// with a key. With none, the router fails fast and every agent uses its
// rule-based fallbacks.
func backendOptions(cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) []reasoning.Option {
	opts := []reasoning.Option{
		reasoning.WithGate(limiter),
		reasoning.WithMaxRetries(cfg.MaxRetries),
		reasoning.WithLogger(logger),
	}
	backends := []struct {
		provider, key, url string
	}{
		{ratelimit.ProviderGemini, cfg.GeminiAPIKey, cfg.GeminiBaseURL},
		{ratelimit.ProviderOpenRouter, cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL},
		{ratelimit.ProviderMistral, cfg.MistralAPIKey, cfg.MistralBaseURL},
	}
	for _, b := range backends {
		if b.key == "" {
			continue
		}
		opts = append(opts, reasoning.WithBackend(reasoning.NewOpenAIBackend(b.provider, b.key, b.url)))
		slog.Info("reasoning backend enabled", "provider", b.provider)
	}
	if len(opts) == 3 {
		slog.Warn("no reasoning API keys set, agents will use rule-based decisions")
	}
	return opts
}
