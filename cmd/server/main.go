package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/config"
	"github.com/bullionworks/trade-engine/internal/limits"
	"github.com/bullionworks/trade-engine/internal/metrics"
	"github.com/bullionworks/trade-engine/internal/pricing"
	"github.com/bullionworks/trade-engine/internal/settle"
	"github.com/bullionworks/trade-engine/internal/spot"
	"github.com/bullionworks/trade-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("BULLION_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	// --- Pricing rules ---
	rules, err := pricing.LoadRules(cfg.Pricing.RulesFile)
	if err != nil {
		slog.Error("rule table invalid", "file", cfg.Pricing.RulesFile, "err", err)
		os.Exit(1)
	}
	engine, err := pricing.NewEngine(rules)
	if err != nil {
		slog.Error("rule table rejected", "err", err)
		os.Exit(1)
	}
	slog.Info("pricing rules loaded", "version", rules.Version)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Database.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Database.RedisURL)
			if err != nil {
				slog.Error("invalid Redis URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Database.CacheTTL())
			slog.Info("Redis cache enabled", "ttl", cfg.Database.CacheTTL())
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := settle.NewWSHub()
	go wsHub.Run()

	// --- Spot price feed ---
	var source spot.Source
	if cfg.Spot.APIURL != "" {
		source = spot.NewHTTPSource(cfg.Spot.APIURL, cfg.Spot.APIKey)
	} else {
		slog.Warn("spot api url not set, serving static default prices")
	}
	feed := spot.NewFeed(source, cfg.Spot.PollInterval(), func(snap spot.Snapshot) {
		prices := make(map[string]string, len(snap.Prices))
		for metal, price := range snap.Prices {
			metrics.SpotPrice.WithLabelValues(string(metal)).Set(price.InexactFloat64())
			prices[string(metal)] = price.String()
		}
		wsHub.Broadcast(settle.WSMessage{
			Type:   "spot_refresh",
			Prices: prices,
			AsOf:   snap.AsOf,
		})
	})

	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	if source != nil {
		go feed.Run(feedCtx)
	}

	// --- Trade limits ---
	var limiter *limits.TradeLimiter
	maxPerTrade := parseLimit(cfg.Limits.MaxPerTradeUSD)
	maxExposure := parseLimit(cfg.Limits.MaxExposureUSD)
	if maxPerTrade.IsPositive() || maxExposure.IsPositive() {
		limiter = limits.NewTradeLimiter(maxPerTrade, maxExposure)
		slog.Info("trade limits enabled",
			"max_per_trade_usd", maxPerTrade.String(),
			"max_exposure_usd", maxExposure.String(),
		)
	}

	// --- Settlement service ---
	svc := settle.NewService(st, engine, feed, nil, limiter, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeoutDuration()))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	allowOrigin := cfg.Server.CORSAllowOrigin
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
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
		w.Write([]byte(`{"status":"ok","service":"trade-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for spot refreshes and settlement events.
		r.Get("/ws", wsHub.HandleWS)

		// Market data.
		r.Get("/spot", svc.GetSpot)

		// Quoting.
		r.Post("/quotes/buy", svc.QuoteBuy)
		r.Post("/quotes/sell", svc.QuoteSell)
		r.Post("/quotes/storage", svc.QuoteStorage)

		// Trade execution.
		r.Post("/trades/buy", svc.ExecuteBuy)
		r.Post("/trades/sell", svc.ExecuteSell)

		// Portfolio queries.
		r.Get("/portfolio/{userID}", svc.GetPortfolio)
		r.Get("/ledger/{userID}", svc.GetLedger)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trade-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopFeed()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trade-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trade-engine stopped")
}

// parseLimit reads a USD limit string; empty means disabled.
func parseLimit(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		slog.Error("invalid limit value", "value", s, "err", err)
		os.Exit(1)
	}
	return v
}
