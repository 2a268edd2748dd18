package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itswale/api-utils/internal/alert"
	"github.com/itswale/api-utils/internal/browser"
	"github.com/itswale/api-utils/internal/cache"
	"github.com/itswale/api-utils/internal/config"
	"github.com/itswale/api-utils/internal/dashboard"
	"github.com/itswale/api-utils/internal/logs"
	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/replay"
	"github.com/itswale/api-utils/internal/server"
	"github.com/itswale/api-utils/internal/session"
	"github.com/itswale/api-utils/internal/storage"
	"github.com/itswale/api-utils/internal/version"
)

const defaultConfigFile = "apiutils.yml"

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "apiutils",
		Short:        "API prober and webpage check runner",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile, "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(probeCmd())
	root.AddCommand(checkCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "apiutils %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// loadConfig reads the config file, falling back to built-in defaults when
// the default file does not exist, then applies APIUTILS_* overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit := cmd.Flags().Changed("config")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = config.Default()
	}
	if err := cfg.ApplyEnv(config.NewViper()); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	return cfg, nil
}

func newEngine(cfg *config.Config, logger *zap.Logger) (*pagecheck.Engine, error) {
	driver, err := browser.New(browser.Options{
		Driver:    cfg.Browser.Driver,
		ExecPath:  cfg.Browser.ExecPath,
		RemoteURL: cfg.Browser.RemoteURL,
		Headful:   cfg.Browser.Headful,
	}, logger)
	if err != nil {
		return nil, err
	}
	return pagecheck.New(driver, logger,
		pagecheck.WithNavigationTimeout(cfg.Browser.NavigationTimeout.Duration),
		pagecheck.WithSlowThreshold(cfg.Browser.SlowThreshold.Duration),
	), nil
}

// newCache picks Redis when configured, else the in-process LRU. It returns
// a nil Store when caching is disabled.
func newCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (cache.Store, func(), error) {
	if cfg.Redis.Addr != "" {
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.TTL.Duration,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {
			if err := r.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}, nil
	}
	if cfg.Size > 0 {
		return cache.NewLRU(cfg.Size, cfg.TTL.Duration), func() {}, nil
	}
	return nil, func() {}, nil
}

// components are the long-lived pieces serve wires together.
type components struct {
	session  *session.Session
	replayer *replay.Replayer
	server   *server.Server
}

// wire builds the session, replayer and API server. Interactive page checks
// go through the cache when store is non-nil; replays always run engine
// directly.
func wire(db *storage.DB, p *prober.Prober, engine pagecheck.Runner, store cache.Store, origins []string, logger *zap.Logger) components {
	interactive := engine
	if store != nil {
		interactive = cache.NewReadThrough(engine, store, logger)
	}

	sess := session.New(db)
	replayer := replay.New(db, p, engine, logger)
	return components{
		session:  sess,
		replayer: replayer,
		server: server.New(server.Deps{
			Session:        sess,
			Prober:         p,
			Runner:         interactive,
			Replayer:       replayer,
			Runs:           db,
			AllowedOrigins: origins,
		}, logger),
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load config and build the logger
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logs.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	// 2. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 3. Open SQLite
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// 4. Build prober, engine and cache
	p := prober.New(cfg.Prober.Timeout.Duration, logger)
	engine, err := newEngine(cfg, logger)
	if err != nil {
		return fmt.Errorf("building page check engine: %w", err)
	}
	store, closeCache, err := newCache(ctx, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("building cache: %w", err)
	}
	defer closeCache()

	// 5. Session, replay and API server
	app := wire(db, p, engine, store, cfg.Server.AllowedOrigins, logger)
	sess, replayer := app.session, app.replayer
	if err := seedTests(ctx, sess, cfg.Tests); err != nil {
		return err
	}
	logger.Info("config loaded", zap.Int("seeded_tests", len(cfg.Tests)), zap.String("driver", cfg.Browser.Driver))

	// 6. Alerts and periodic replay
	var alerter *alert.Alerter
	if cfg.Alerts.Webhook.URL != "" {
		alerter = alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, logger)
		replayer.SetOnResult(alerter.Notify)
	}
	if cfg.Replay.Interval.Duration > 0 {
		replayer.Start(ctx, cfg.Replay.Interval.Duration)
		logger.Info("replay started", zap.Duration("interval", cfg.Replay.Interval.Duration))
	}

	// 7. Mount routes on a single mux
	mux := http.NewServeMux()
	mux.Handle("/api/", app.server.Router())
	mux.Handle("/", dashboard.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// 8. Wait for signal or server error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	// 9. Graceful shutdown
	replayer.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}
	if alerter != nil {
		alerter.Wait()
	}

	logger.Info("shutdown complete")
	return nil
}
