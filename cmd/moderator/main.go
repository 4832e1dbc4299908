// Command moderator runs the automated moderation agent: it authenticates
// against a PDS/labeler, then drives the embed-checking and action-routing
// pipeline until told to stop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/littleironwaltz/moderation-agent/internal/accountcache"
	"github.com/littleironwaltz/moderation-agent/internal/action"
	"github.com/littleironwaltz/moderation-agent/internal/client"
	"github.com/littleironwaltz/moderation-agent/internal/counters"
	"github.com/littleironwaltz/moderation-agent/internal/embedcheck"
	"github.com/littleironwaltz/moderation-agent/internal/logging"
	"github.com/littleironwaltz/moderation-agent/internal/matcher"
	"github.com/littleironwaltz/moderation-agent/internal/metrics"
	"github.com/littleironwaltz/moderation-agent/internal/redirect"
	"github.com/littleironwaltz/moderation-agent/internal/session"
	"github.com/littleironwaltz/moderation-agent/internal/transport"
	"github.com/littleironwaltz/moderation-agent/internal/whitelist"
	"github.com/littleironwaltz/moderation-agent/pkg/config"
)

// refreshBuffer is how far ahead of access-token expiry the session manager
// proactively refreshes.
const refreshBuffer = 2 * time.Minute

// refreshPollInterval is how often the background loop asks the session
// manager whether a refresh is due, independent of request traffic.
const refreshPollInterval = 30 * time.Second

// App wires every pipeline component together and owns the operator-facing
// HTTP surface via a single struct plus a staged, dual-timeout shutdown
// sequence.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	sessionMgr *session.Manager
	facade     *client.Facade
	checker    *embedcheck.Checker
	router     *action.Router

	echo *echo.Echo

	shutdownWg sync.WaitGroup
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the agent's YAML configuration file")
	flag.Parse()

	logger := slog.New(logging.NewZerologHandler(os.Stdout, slog.LevelInfo))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config: load failed", "err", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("config: invalid", "err", err)
		os.Exit(1)
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	app.checker.Start(ctx)
	app.router.Start(ctx)
	app.startRefreshLoop(ctx)
	app.startOperatorServer()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	cancel()
	app.shutdown()
	logger.Info("stopped")
}

// newApp constructs every pipeline component and authenticates the session,
// wiring the Session Manager and REST Executor together without either
// package importing the other's concrete constructor.
func newApp(cfg config.Config, logger *slog.Logger) (*App, error) {
	rest := transport.New(cfg.BaseURL(), cfg.ServiceDID, logger)
	sessionMgr := session.New(rest, refreshBuffer, logger)
	rest.SetTokenSource(sessionMgr)

	if err := sessionMgr.Connect(context.Background(), session.Credentials{
		Identifier: cfg.Handle,
		Password:   cfg.Password,
	}); err != nil {
		return nil, err
	}

	facade := client.New(sessionMgr, rest, cfg.DryRun, cfg.UseToken, logger)

	router := action.New(cfg.QueueLimit, facade, cfg.ServiceDID, logger)

	cnts := counters.New(counters.Factors{
		Image:  cfg.ImageFactor,
		Video:  cfg.VideoFactor,
		Record: cfg.RecordFactor,
		Link:   cfg.LinkFactor,
	})
	admission := whitelist.New(cfg.URIHostPrefix, cfg.WhitelistURIs)

	follower := redirect.New(cfg.URLRedirectLimit, matcher.None, admission, cnts.Links, router, logger)
	follower.SetLimiter(rate.NewLimiter(rate.Limit(5), 10))

	accounts := accountcache.New(cfg.AccountCacheCapacity, func(did string, rec accountcache.Record) {
		metrics.AccountCacheEvictionsTotal.Inc()
		logger.Debug("account cache: evicted", "did", did, "last_seen", rec.LastSeen)
	})

	checker := embedcheck.New(cfg.QueueLimit, cfg.NumberOfThreads, cnts, admission, follower, accounts, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet},
	}))

	app := &App{
		cfg:        cfg,
		logger:     logger,
		sessionMgr: sessionMgr,
		facade:     facade,
		checker:    checker,
		router:     router,
		echo:       e,
	}
	app.registerRoutes()
	return app, nil
}

// registerRoutes installs the operator-facing surface: liveness, readiness
// (gated on session authentication), and Prometheus metrics.
func (a *App) registerRoutes() {
	a.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	a.echo.GET("/readyz", func(c echo.Context) error {
		if !a.sessionMgr.IsReady() {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})
	a.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// startRefreshLoop proactively checks token freshness on a fixed interval,
// independent of write traffic, so a quiet pipeline doesn't let its access
// token lapse.
func (a *App) startRefreshLoop(ctx context.Context) {
	a.shutdownWg.Add(1)
	go func() {
		defer a.shutdownWg.Done()
		ticker := time.NewTicker(refreshPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := a.sessionMgr.CheckRefresh(ctx); err != nil {
					a.logger.Error("session refresh failed", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (a *App) startOperatorServer() {
	a.shutdownWg.Add(1)
	go func() {
		defer a.shutdownWg.Done()
		addr := ":9090"
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			a.logger.Error("operator server error", "err", err)
		}
	}()
}

// shutdown drains the embed checker and action router, then stops the
// operator HTTP server under a staged timeout sequence.
func (a *App) shutdown() {
	a.checker.Wait()
	a.router.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(ctx); err != nil {
		a.logger.Error("operator server shutdown failed", "err", err)
	}

	waitCh := make(chan struct{})
	go func() {
		a.shutdownWg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		a.logger.Warn("shutdown timed out waiting for background goroutines")
	}
}
