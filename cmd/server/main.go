// Package main provides the radio server entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/19radio/internal/api/connect"
	"github.com/osa030/19radio/internal/api/stream"
	"github.com/osa030/19radio/internal/app/filter"
	"github.com/osa030/19radio/internal/app/station"
	"github.com/osa030/19radio/internal/infra/cache"
	"github.com/osa030/19radio/internal/infra/config"
	"github.com/osa030/19radio/internal/infra/logger"
	"github.com/osa030/19radio/internal/infra/metrics"
)

var (
	app        = kingpin.New("19radio-server", "19radio continuous internet radio server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listFiltersCmd = app.Command("list-filters", "List available admission filters and exit")
	sweepCacheCmd  = app.Command("sweep-cache", "Archive leftover downloads into the cache and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters(os.Stdout)
		return
	}

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == sweepCacheCmd.FullCommand() {
		if err := sweepCache(cfg); err != nil {
			zlog.Error().Msgf("Cache sweep failed: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	if err := validateFilterConfig(cfg); err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	var reg *metrics.Metrics
	if cfg.Metrics.IsEnabled() {
		reg = metrics.New()
	}

	mgr, err := station.NewManager(cfg, station.Deps{Metrics: reg})
	if err != nil {
		return errors.Wrap(err, "failed to create station")
	}
	defer mgr.Close()

	mux := http.NewServeMux()

	adminPath, adminHandler := apiconnect.NewAdminServiceHandler(
		apiconnect.NewAdminService(mgr),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)
	mux.Handle(adminPath, adminHandler)

	streamCfg := stream.Config{
		Name:         cfg.Stream.Name,
		Bitrate:      cfg.Stream.Bitrate,
		MetaInt:      cfg.Stream.IcyMetaInt,
		WriteTimeout: config.Millis(cfg.Stream.WriteTimeoutMs),
	}
	if reg != nil {
		streamCfg.Metrics = reg.Handler()
		streamCfg.MetricsPath = cfg.Metrics.Path
	}
	mux.Handle("/", stream.NewHandler(mgr, streamCfg))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start station")
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Give the listener a moment before announcing the station.
	time.Sleep(100 * time.Millisecond)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Listener streams never finish on their own, so the station closes first.
	mgr.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	return nil
}

// printFilters prints available filters.
func printFilters(w io.Writer) {
	registry := filter.GetRegistered()
	fmt.Fprintln(w, "Available Filters:")
	for _, name := range filter.Names() {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Fprintf(w, "  %-26s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// validateFilterConfig validates filter configurations.
func validateFilterConfig(cfg *config.Config) error {
	registry := filter.GetRegistered()

	names := make([]string, 0, len(cfg.Filters))
	for name := range cfg.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		factory, exists := registry[name]
		if !exists {
			return errors.Newf("unknown filter: %s", name)
		}
		filterCfg := cfg.Filters[name]
		if !filterCfg.Enabled {
			continue
		}
		if err := factory().ValidateConfig(filterCfg.Settings); err != nil {
			return errors.Wrapf(err, "filter %s", name)
		}
	}
	return nil
}

// sweepCache archives every audio file left in the work dir.
func sweepCache(cfg *config.Config) error {
	c, err := cache.Open(cache.Config{
		WorkDir:   cfg.Storage.WorkDir,
		CacheDir:  cfg.Storage.CacheDir,
		IndexFile: cfg.Storage.IndexFile,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Sweep()
	if err != nil {
		return err
	}
	zlog.Info().Msgf("Archived %d file(s) from %s into %s", n, cfg.Storage.WorkDir, cfg.Storage.CacheDir)
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// sh -c allows redirection and pipes in hook commands.
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
