// Gateway serves the risk API, the synthesized tool bridge, the MCP endpoint
// and the live event streams.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bturcanu/georisk/pkg/aggregate"
	"github.com/bturcanu/georisk/pkg/auth"
	"github.com/bturcanu/georisk/pkg/broadcast"
	"github.com/bturcanu/georisk/pkg/config"
	"github.com/bturcanu/georisk/pkg/geo"
	"github.com/bturcanu/georisk/pkg/hotspots"
	"github.com/bturcanu/georisk/pkg/mcpserver"
	grOtel "github.com/bturcanu/georisk/pkg/otel"
	"github.com/bturcanu/georisk/pkg/pricing"
	"github.com/bturcanu/georisk/pkg/riskapi"
	"github.com/bturcanu/georisk/pkg/riskstore"
	"github.com/bturcanu/georisk/pkg/sources"
	"github.com/bturcanu/georisk/pkg/tools"
	"github.com/bturcanu/georisk/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	maxRateLimiters = 10_000
	requestTimeout  = 30 * time.Second
	toolCacheSize   = 1024
)

var version = "dev"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelShutdown, err := grOtel.Setup(ctx, grOtel.Config{
		ServiceName:    config.EnvOr("OTEL_SERVICE_NAME", "georisk-gateway"),
		ServiceVersion: version,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:   config.EnvOrBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		MetricsEnabled: true,
	})
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Postgres ─────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, buildPostgresDSN())
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := riskstore.NewStore(pool)
	if n, err := store.Count(ctx); err != nil {
		log.Warn("risk_data not readable yet", "error", err)
	} else {
		log.Info("risk store connected", "records", n)
	}

	// ── Scoring ──────────────────────────────────────────────────────────
	cacheTTL := config.EnvOrDuration("SOURCE_CACHE_TTL", 10*time.Minute)
	countries := config.EnvOrList("COUNTRIES", sources.APACCountries)
	set := sources.NewSet(sources.Options{
		Endpoints:    sources.DefaultEndpoints(),
		CacheTTL:     cacheTTL,
		GDELTLimiter: sources.NewGDELTLimiter(),
		Logger:       log,
	})
	factorSets, err := orderedFactorSets(config.EnvOr("FACTOR_SET", aggregate.TravelAdvisory.Name))
	if err != nil {
		log.Error("invalid factor set", "error", err)
		os.Exit(1)
	}
	engine, err := aggregate.New(set.Adapters(), log, factorSets...)
	if err != nil {
		log.Error("aggregation engine setup failed", "error", err)
		os.Exit(1)
	}

	// ── Broadcast + background refresh ───────────────────────────────────
	bus := broadcast.New(config.EnvOrInt("BROADCAST_QUEUE_SIZE", broadcast.DefaultQueueSize), log)
	defer bus.Close()

	hotspotSvc := hotspots.New(set.GDELT, bus, geo.APAC, log)
	if interval := config.EnvOrDuration("HOTSPOT_REFRESH_INTERVAL", 15*time.Minute); interval > 0 {
		go hotspotSvc.Run(ctx, interval)
	}

	priceCfg := pricing.DefaultConfig()
	priceCfg.ExchangerateKey = os.Getenv("EXCHANGERATE_API_KEY")
	priceCfg.MetalpriceKey = os.Getenv("METALPRICE_API_KEY")
	priceCfg.Countries = countries
	prices := pricing.New(priceCfg, set.Resolver, log)

	// ── Tools ────────────────────────────────────────────────────────────
	toolset, err := buildToolset(ctx, log)
	if err != nil {
		log.Error("tool synthesis failed", "error", err)
		os.Exit(1)
	}
	mcpSrv := mcpserver.New(toolset, version, log)

	api := riskapi.New(riskapi.Deps{
		Log:        log,
		Store:      store,
		Engine:     engine,
		Advisories: set.Advisories,
		Prices:     prices,
		Hotspots:   hotspotSvc,
		Search:     set.Search,
		Tools:      toolset,
		Bus:        bus,
		Countries:  countries,
	})

	gw, err := newGateway(log, config.EnvOrInt("RATE_LIMIT_PER_CLIENT", 50))
	if err != nil {
		log.Error("gateway setup failed", "error", err)
		os.Exit(1)
	}
	keyStore := auth.NewKeyStore(config.EnvOrList("API_KEYS", nil))
	if keyStore.Len() == 0 {
		log.Warn("API_KEYS is empty, write routes are unauthenticated")
	}

	r := newRouter(gw, api, bus, mcpserver.Handler(mcpSrv), keyStore, store.Ping)

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsAddr := config.EnvOr("METRICS_ADDR", "127.0.0.1:9090")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("GATEWAY_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gateway starting", "addr", addr, "tools", toolset.Len(), "factor_set", engine.DefaultSet())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")
	// Closing the bus ends open streams so Shutdown does not wait on them.
	bus.Close()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
}

// newRouter assembles the middleware stack. Streams and MCP sit outside the
// request timeout.
func newRouter(gw *Gateway, api *riskapi.API, bus *broadcast.Bus, mcpHandler http.Handler, keys *auth.KeyStore, ready func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(auth.APIKeyAuth(keys, auth.Options{OpenReads: true, SkipPaths: []string{"/health"}}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(gw.rateLimit)
		api.Routes(r)
	})
	r.Group(func(r chi.Router) {
		riskapi.StreamRoutes(r, bus)
		if mcpHandler != nil {
			r.Handle("/mcp", mcpHandler)
		}
	})
	return r
}

// ──────────────────────────────────────────────────────────────────────────────
// Tools
// ──────────────────────────────────────────────────────────────────────────────

// buildToolset loads the manifest and binds it to an HTTP invoker. A missing
// manifest file yields an empty toolset.
func buildToolset(ctx context.Context, log *slog.Logger) (*tools.Toolset, error) {
	path := config.EnvOr("TOOLS_MANIFEST", "manifests/tools.json")
	descs, err := tools.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		log.Warn("tool manifest empty or missing, serving no tools", "path", path)
	}

	ttl := config.EnvOrDuration("TOOLS_CACHE_TTL", tools.DefaultCacheTTL)
	var cache tools.Cache = tools.NewMemoryCache(toolCacheSize, ttl)
	if addr := os.Getenv("TOOLS_CACHE_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, using in-process tool cache", "addr", addr, "error", err)
		} else {
			cache = tools.NewRedisCache(rdb, ttl, log)
		}
	}

	inv := tools.NewHTTPInvoker(config.EnvOr("TOOLS_BASE_URL", "http://localhost:8080"), cache, log)
	inv.SetTimeout(config.EnvOrDuration("TOOLS_TIMEOUT", tools.DefaultTimeout))
	inv.SetAPIKey(os.Getenv("TOOLS_API_KEY"))
	return tools.Synthesize(descs, inv)
}

// orderedFactorSets returns every built-in set with the named one first.
func orderedFactorSets(defaultName string) ([]aggregate.FactorSet, error) {
	def, ok := aggregate.Builtin(defaultName)
	if !ok {
		return nil, fmt.Errorf("unknown factor set %q (have %v)", defaultName, aggregate.BuiltinNames())
	}
	out := []aggregate.FactorSet{def}
	for _, name := range aggregate.BuiltinNames() {
		if name == defaultName {
			continue
		}
		fs, _ := aggregate.Builtin(name)
		out = append(out, fs)
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Rate limiting (bounded map with eviction)
// ──────────────────────────────────────────────────────────────────────────────

type Gateway struct {
	log            *slog.Logger
	limiters       *lru.Cache[string, *rate.Limiter]
	rlMu           sync.Mutex
	perClientLimit int
}

// newGateway keeps at most maxRateLimiters client buckets, evicting the least
// recently seen.
func newGateway(log *slog.Logger, perClientLimit int) (*Gateway, error) {
	limiters, err := lru.New[string, *rate.Limiter](maxRateLimiters)
	if err != nil {
		return nil, fmt.Errorf("gateway: rate limiter cache: %w", err)
	}
	return &Gateway{log: log, limiters: limiters, perClientLimit: perClientLimit}, nil
}

// rateLimit keys on the authenticated client, or the remote address for
// anonymous callers.
func (gw *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := auth.ClientFromContext(r.Context())
		if client == "" || client == auth.Anonymous {
			client = "ip:" + remoteHost(r.RemoteAddr)
		}
		if !gw.allowRate(client) {
			gw.log.InfoContext(r.Context(), "rate limited", "client", client, "path", r.URL.Path)
			types.ErrRateLimited().WriteJSON(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (gw *Gateway) allowRate(clientID string) bool {
	gw.rlMu.Lock()
	defer gw.rlMu.Unlock()

	lim, ok := gw.limiters.Get(clientID)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(gw.perClientLimit), gw.perClientLimit*2)
		gw.limiters.Add(clientID, lim)
	}
	return lim.Allow()
}

func buildPostgresDSN() string {
	sslmode := config.EnvOr("POSTGRES_SSLMODE", "disable")
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.EnvOr("POSTGRES_USER", "georisk"), config.EnvOr("POSTGRES_PASSWORD", "changeme")),
		Host:     net.JoinHostPort(config.EnvOr("POSTGRES_HOST", "localhost"), config.EnvOr("POSTGRES_PORT", "5432")),
		Path:     config.EnvOr("POSTGRES_DB", "georisk"),
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String()
}
