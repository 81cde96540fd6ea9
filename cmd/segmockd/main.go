package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"segclient/internal/config"
	"segclient/internal/logging"
	"segclient/internal/mockserver"
)

var version = "dev"

type flags struct {
	configPath    string
	addr          string
	logLevel      string
	catalog       string
	corsOrigins   []string
	progressDelay time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "segmockd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "segmockd",
		Short:         "Fake segmentation backend for exercising segclient",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(f.configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), f.apply(cmd, cfg))
		},
	}
	fl := root.Flags()
	fl.StringVar(&f.configPath, "config", "", "Config file (.yaml, .json or .toml)")
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8000")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	fl.StringVar(&f.catalog, "catalog", "", "Algorithm catalog file served instead of the built-in one")
	fl.StringSliceVar(&f.corsOrigins, "cors-origins", nil, "Allowed CORS origins (comma separated)")
	fl.DurationVar(&f.progressDelay, "progress-delay", 0, "Pause between progress events of one algorithm")
	return root
}

// apply overlays explicitly set flags onto cfg.
func (f *flags) apply(cmd *cobra.Command, cfg config.Config) config.Config {
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Mock.Addr = f.addr
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("catalog") {
		cfg.Mock.CatalogFile = f.catalog
	}
	if changed("cors-origins") {
		cfg.Mock.CORSOrigins = f.corsOrigins
	}
	if changed("progress-delay") {
		cfg.Mock.ProgressDelay = config.D(f.progressDelay)
	}
	return cfg
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logging.New(cfg.Log)
	mockserver.SetLogger(log)

	opts, err := mockserver.OptionsFromConfig(cfg.Mock, version)
	if err != nil {
		return err
	}

	// Graceful shutdown (Ctrl+C / SIGTERM)
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	mockserver.SetBaseContext(ctx)

	srv := mockserver.New(opts)
	httpSrv := &http.Server{Addr: cfg.Mock.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Mock.Addr).Int("algorithms", len(srv.Backend().Algorithms())).Msg("segmockd listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("segmockd stopped")
	return nil
}
