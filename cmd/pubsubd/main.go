// Command pubsubd runs the in-process pub/sub broker: a WebSocket
// session endpoint at /ws and a REST control plane for topic lifecycle
// and observability.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/pubsubd/pubsubd/internal/broker"
	"github.com/pubsubd/pubsubd/internal/config"
	"github.com/pubsubd/pubsubd/internal/health"
	"github.com/pubsubd/pubsubd/internal/httpapi"
	"github.com/pubsubd/pubsubd/internal/metrics"
	"github.com/pubsubd/pubsubd/internal/obslog"
	"github.com/pubsubd/pubsubd/internal/ratelimit"
	"github.com/pubsubd/pubsubd/internal/transport"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides PUBSUBD_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		zerolog.New(os.Stdout).Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}

	logger := obslog.New(obslog.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	cfg.LogConfig(logger)

	b := broker.New(logger, broker.Config{
		HistoryCapacity:     cfg.Broker.HistoryCapacity,
		DispatcherQueueSize: cfg.Broker.DispatcherQueueSize,
	})
	limiters := ratelimit.NewWithRate(cfg.Broker.RateLimitRPS, cfg.Broker.RateLimitBurst)
	sampler := health.NewSampler()

	wsServer := transport.NewServer(b, limiters, logger)
	apiServer := httpapi.NewServer(b, sampler, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", apiServer)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("pubsubd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	wsServer.Shutdown()

	grace, err := time.ParseDuration(cfg.Server.ShutdownGrace)
	if err != nil {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during http shutdown")
	}
}
