// Command teamradar-server runs the team-awareness TCP server: it accepts
// delimited-frame connections, persists activity events and user profiles
// to SQLite, and exposes a Prometheus /metrics endpoint. Signal handling
// follows rockstar-0000-aistore's cmd/authn/main.go, generalized from
// os/signal.Notify to the newer signal.NotifyContext form.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/teamradar/teamradar-server/internal/config"
	"github.com/teamradar/teamradar-server/internal/hub"
	"github.com/teamradar/teamradar-server/internal/listener"
	"github.com/teamradar/teamradar-server/internal/metrics"
	"github.com/teamradar/teamradar-server/internal/registry"
	"github.com/teamradar/teamradar-server/internal/store/blobfs"
	"github.com/teamradar/teamradar-server/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/TOML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := blobfs.New(cfg.PhotoPath)
	if err != nil {
		return err
	}

	reg := registry.New()
	m := metrics.New(prometheus.DefaultRegisterer)
	h := hub.New(reg, db, db, blobs, m, log.With().Str("component", "hub").Logger(), cfg.WriteQueueCap*4)

	// IPAddress is display-only; the server always listens on all interfaces.
	ln := listener.New(listener.Config{
		Addr:            ":" + strconv.Itoa(cfg.Port),
		TransferTimeout: cfg.TransferTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		MaxBufferBytes:  cfg.MaxBufferBytes,
		WriteQueueCap:   cfg.WriteQueueCap,
	}, reg, h, m, log.With().Str("component", "listener").Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = metricsSrv.Close()
	}()

	return ln.Run(ctx)
}
