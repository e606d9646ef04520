package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"chatbridge/internal/bridge"
	"chatbridge/internal/config"
	"chatbridge/internal/constants"
	"chatbridge/internal/dedup"
	"chatbridge/internal/gateway"
	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
	"chatbridge/pkg/bootstrap"
	"chatbridge/pkg/cel"
	"chatbridge/pkg/circuitbreaker"
	"chatbridge/pkg/health"
	"chatbridge/pkg/metrics"
	"chatbridge/pkg/middleware"
	"chatbridge/pkg/ratelimit"
	"chatbridge/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redisClient    *redis.Client
	inboundDedup   dedup.Store
	outboundDedup  dedup.Store
	inboundPoller  *bridge.InboundPoller
	outboundPoller *bridge.OutboundPoller
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("bridge-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDedupStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize dedup stores: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "bridge-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBridgeMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}
	if a.Config.RateLimit.Enabled {
		metrics.RegisterRateLimitMetrics()
	}

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDedupStores(ctx context.Context) error {
	ttl := time.Duration(a.Config.Dedup.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = constants.DedupTTL
	}
	maxEntries := a.Config.Dedup.MaxEntries
	if maxEntries <= 0 {
		maxEntries = constants.DedupMaxEntries
	}

	if a.Config.Dedup.Store == constants.DedupStoreRedis {
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redisClient = rdb
		a.inboundDedup = dedup.NewRedisStore("inbound", rdb, constants.CacheKeyPrefixInbound, ttl)
		a.outboundDedup = dedup.NewRedisStore("outbound", rdb, constants.CacheKeyPrefixOutbound, ttl)
		return nil
	}

	a.inboundDedup = dedup.NewMemoryStore("inbound", ttl, maxEntries)
	a.outboundDedup = dedup.NewMemoryStore("outbound", ttl, maxEntries)
	return nil
}

func (a *App) initHTTPServer(ctx context.Context) error {
	var gatewayCB, inboxCB *circuitbreaker.Wrapper
	if a.Config.CircuitBreaker.Enabled {
		gatewayCB = circuitbreaker.NewWrapper(a.breakerConfig("gateway"))
		inboxCB = circuitbreaker.NewWrapper(a.breakerConfig("inbox"))
	}

	gatewayClient := gateway.NewClient(a.Config.Gateway, a.Logger, gatewayCB)
	inboxClient, err := inbox.NewClient(a.Config.Inbox, a.Logger, inboxCB)
	if err != nil {
		return err
	}

	rules, err := cel.NewEvaluator(a.Config.Relay.IgnoreRules)
	if err != nil {
		return fmt.Errorf("invalid ignore rules: %w", err)
	}
	if rules.RuleCount() > 0 {
		a.Logger.Infow("Ignore rules active", "count", rules.RuleCount())
	}

	resolver := bridge.NewResolver(inboxClient, a.Logger)
	pipeline := bridge.NewPipeline(gatewayClient, inboxClient, a.Logger)

	inboundSvc := bridge.NewInboundService(resolver, pipeline, inboxClient, a.inboundDedup, rules, a.Logger)
	outboundSvc := bridge.NewOutboundService(pipeline, gatewayClient, inboxClient, a.outboundDedup, rules, a.Logger)

	a.inboundPoller = bridge.NewInboundPoller(gatewayClient, inboundSvc, a.Config.Polling, a.Logger)
	a.outboundPoller = bridge.NewOutboundPoller(inboxClient, outboundSvc, a.Config.Polling, a.Logger)

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewConfiguredChecker("gateway", a.Config.Gateway.BaseURL))
	checks.Register(health.NewConfiguredChecker("inbox", a.Config.Inbox.BaseURL))
	if a.redisClient != nil {
		checks.Register(health.NewRedisChecker(a.redisClient))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("bridge-service"))
	}
	if a.Config.RateLimit.Enabled {
		router.Use(ratelimit.Middleware(a.rateLimitConfig()))
	}

	handler := bridge.NewHandler(inboundSvc, outboundSvc, checks, a.Logger)
	handler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	return nil
}

func (a *App) breakerConfig(name string) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	if a.Config.CircuitBreaker.MaxRequests > 0 {
		cfg.MaxRequests = a.Config.CircuitBreaker.MaxRequests
	}
	if a.Config.CircuitBreaker.Interval > 0 {
		cfg.Interval = a.Config.CircuitBreaker.Interval
	}
	if a.Config.CircuitBreaker.Timeout > 0 {
		cfg.Timeout = a.Config.CircuitBreaker.Timeout
	}
	return cfg
}

func (a *App) rateLimitConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	if a.Config.RateLimit.RPS > 0 {
		cfg.RPS = a.Config.RateLimit.RPS
	}
	if a.Config.RateLimit.Burst > 0 {
		cfg.Burst = a.Config.RateLimit.Burst
	}
	if a.Config.RateLimit.CleanupInterval > 0 {
		cfg.CleanupInterval = time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second
	}
	if a.Config.RateLimit.MaxAge > 0 {
		cfg.MaxAge = time.Duration(a.Config.RateLimit.MaxAge) * time.Second
	}
	return cfg
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.inboundPoller.Run(gCtx)
	})

	g.Go(func() error {
		return a.outboundPoller.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.inboundDedup != nil {
			if err := a.inboundDedup.Close(); err != nil {
				errs = append(errs, fmt.Errorf("inbound dedup close error: %w", err))
			}
		}
		if a.outboundDedup != nil {
			if err := a.outboundDedup.Close(); err != nil {
				errs = append(errs, fmt.Errorf("outbound dedup close error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
