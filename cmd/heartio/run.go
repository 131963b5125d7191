package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heartio/internal/config"
	"github.com/srg/heartio/internal/device"
	goble "github.com/srg/heartio/internal/device/go-ble"
	"github.com/srg/heartio/internal/groutine"
	"github.com/srg/heartio/internal/heartrate"
	"github.com/srg/heartio/internal/lifecycle"
	"github.com/srg/heartio/internal/monitor"
	"github.com/srg/heartio/internal/sink"
	"github.com/srg/heartio/internal/source"
	"golang.org/x/term"
)

func registerMonitorFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("osc-host", "", "OSC receiver host (osc.host)")
	f.Int("osc-port", 0, "OSC receiver port (osc.port)")
	f.String("device-name", "", "Connect to the BLE sensor with this name (device.name)")
	f.String("device-address", "", "Connect to the BLE sensor with this address (device.address)")
	f.Bool("xiaomi-band", false, "Read heart rate from Xiaomi Smart Band advertisements (sources.xiaomi_band)")
	f.Bool("apple-watch", false, "Accept heart rate over HTTP (sources.apple_watch)")
	f.Int("http-port", 0, "HTTP ingest port (http.port)")
	f.String("store", "", "SQLite file for recorded samples (store.path)")
	f.String("ui-listen", "", "Address of the live feed and metrics server (ui.listen)")
	f.Bool("no-console", false, "Do not print samples to the console")
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command, logger *logrus.Logger) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path, logger)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("osc-host") {
		cfg.OSC.Host, _ = f.GetString("osc-host")
	}
	if f.Changed("osc-port") {
		cfg.OSC.Port, _ = f.GetInt("osc-port")
	}
	if f.Changed("device-name") {
		cfg.Device.Name, _ = f.GetString("device-name")
	}
	if f.Changed("device-address") {
		cfg.Device.Address, _ = f.GetString("device-address")
	}
	if f.Changed("xiaomi-band") {
		cfg.Sources.XiaomiBand, _ = f.GetBool("xiaomi-band")
	}
	if f.Changed("apple-watch") {
		cfg.Sources.AppleWatch, _ = f.GetBool("apple-watch")
	}
	if f.Changed("http-port") {
		cfg.HTTP.Port, _ = f.GetInt("http-port")
	}
	if f.Changed("store") {
		cfg.Store.Path, _ = f.GetString("store")
	}
	if f.Changed("ui-listen") {
		cfg.UI.Listen, _ = f.GetString("ui-listen")
	}
	if noConsole, _ := f.GetBool("no-console"); noConsole {
		cfg.UI.Console = false
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd, logrus.InfoLevel)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	table, err := cfg.Thresholds()
	if err != nil {
		return err
	}
	storePath, err := cfg.StorePath()
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	printBanner(cmd.OutOrStdout())

	src := cfg.Source()
	logger.WithField("source", src.Kind.String()).Info("Heart-rate source selected")

	var central device.Central
	if src.Kind.UsesBluetooth() {
		c, err := goble.NewCentral(logger)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		central = c
	}

	metrics := monitor.NewMetrics(prometheus.NewRegistry())
	feed := sink.NewFeed(logger)
	uis := sink.Fanout{feed}
	if cfg.UI.Console {
		uis = append(uis, sink.NewConsole(cmd.OutOrStdout(), term.IsTerminal(int(os.Stdout.Fd()))))
	}
	handlers := map[string]http.Handler{
		"/ws":      feed,
		"/metrics": metrics.Handler(),
	}

	// The ingest server already carries the handlers; other sources get a
	// dedicated listener.
	if src.Kind != config.HTTPIngest && cfg.UI.Listen != "" {
		stop, err := serveUI(cmd.Context(), cfg.UI.Listen, handlers, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	seed := uint64(time.Now().UnixNano())
	m, err := monitor.New(monitor.Options{
		Source: src.Kind.String(),
		NewDriver: func() (source.Driver, error) {
			return source.New(src, source.Deps{Central: central, Logger: logger, Handlers: handlers})
		},
		OpenStore: func(ctx context.Context) (sink.Store, error) {
			return sink.OpenSQLite(ctx, storePath, logger)
		},
		OpenNotifier: func() (sink.Notifier, error) {
			return sink.NewOSCNotifier(cfg.OSC.Host, cfg.OSC.Port, logger)
		},
		Guard:    lifecycle.NewGuard(logger),
		UI:       uis,
		Selector: heartrate.NewSelector(table, rand.New(rand.NewPCG(seed, seed>>1))),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	return lifecycle.NewCoordinator(logger).Run(cmd.Context(), m.Run)
}

// serveUI exposes the live feed and metrics on addr until stop is called.
func serveUI(ctx context.Context, addr string, handlers map[string]http.Handler, logger *logrus.Logger) (stop func(), err error) {
	mux := http.NewServeMux()
	for pattern, h := range handlers {
		mux.Handle(pattern, h)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	groutine.Go(ctx, "ui-server", func(ctx context.Context) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("UI server stopped")
		}
	})
	logger.WithField("addr", ln.Addr().String()).Info("Live feed on /ws, metrics on /metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
