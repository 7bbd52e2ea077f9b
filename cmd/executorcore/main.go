// FILE: main.go
// Program entrypoint for the Razor execution core.
//
// Boot sequence (mirrors the teacher's main.go shape, generalised from a
// single backtest/live CLI to a long-running supervised service):
//   1) config.Load()             - read razor.yaml + RAZOR_* env into Config
//   2) setupLogger()              - zerolog, console in dev / JSON in prod
//   3) journal.Open()             - open the sqlite trade journal
//   4) supervisor.New()           - wire the broker factory and journal
//   5) supervisor.InitializeAutoResume() - resume instances left active
//   6) controlplane.New()         - mux+cors HTTP API on cfg.Server.Port
//   7) promhttp on cfg.Server.MetricsPort
//   8) block on SIGINT/SIGTERM, then supervisor.Shutdown() + server drain
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/broker/deribit"
	"github.com/razorcore/execution-core/internal/broker/paper"
	"github.com/razorcore/execution-core/internal/controlplane"
	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/journal"
	"github.com/razorcore/execution-core/internal/supervisor"
	"github.com/razorcore/execution-core/pkg/config"
)

func main() {
	var configPath string
	var logFormat string
	flag.StringVar(&configPath, "config", "", "directory to search for razor.yaml")
	flag.StringVar(&logFormat, "log-format", "console", "console or json")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := setupLogger(cfg.LogLevel, logFormat)
	log.Info().Str("broker", string(cfg.Broker)).Str("environment", string(cfg.Environment)).Msg("starting razor execution core")

	j, err := journal.Open(cfg.JournalDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("journal open failed")
	}
	defer j.Close()

	sup := supervisor.New(j, newBrokerFactory(cfg), log)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sup.InitializeAutoResume(bootCtx, cfg.Broker, cfg.Environment, nil); err != nil {
		log.Error().Err(err).Msg("auto-resume sweep failed; continuing with no resumed instances")
	}
	bootCancel()

	handler := controlplane.New(sup, log, cfg.Server.CORSOrigins)
	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort), Handler: metricsMux}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("control-plane API listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("control-plane server failed")
		}
	}()
	go func() {
		log.Info().Int("port", cfg.Server.MetricsPort).Msg("metrics endpoint listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	sup.Shutdown(shutdownCtx)
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}

func setupLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// newBrokerFactory builds the supervisor's BrokerFactory. A real deployment
// would keep one broker connection per user, pooled and re-authenticated on
// token expiry; that connection-pool/auth layer is out of the execution
// core's scope (spec.md §6), so this factory takes the simplest approach
// that still satisfies the seam: a fresh connection per call for deribit,
// or a fresh in-memory paper broker per call for any other broker name.
func newBrokerFactory(cfg config.Config) supervisor.BrokerFactory {
	return func(ctx context.Context, userID string, brokerName domain.Broker, env domain.Environment) (broker.Broker, error) {
		switch brokerName {
		case "deribit":
			wsURL := "wss://www.deribit.com/ws/api/v2"
			if env == domain.EnvironmentTestnet {
				wsURL = "wss://test.deribit.com/ws/api/v2"
			}
			b := deribit.New(deribit.Config{
				WSURL:        wsURL,
				ClientID:     os.Getenv("DERIBIT_CLIENT_ID"),
				ClientSecret: os.Getenv("DERIBIT_CLIENT_SECRET"),
			}, zerolog.Nop())
			if err := b.Connect(ctx); err != nil {
				return nil, err
			}
			return b, nil
		default:
			pb := paper.New()
			return pb, nil
		}
	}
}
