package commands

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lm-plugin/worker/internal/channel"
	"github.com/lm-plugin/worker/internal/config"
	"github.com/lm-plugin/worker/internal/content"
	"github.com/lm-plugin/worker/internal/event"
	"github.com/lm-plugin/worker/internal/logging"
	"github.com/lm-plugin/worker/internal/persist"
	"github.com/lm-plugin/worker/internal/server"
	"github.com/lm-plugin/worker/internal/session"
	"github.com/lm-plugin/worker/internal/storage"
	"github.com/lm-plugin/worker/internal/stream"
	"github.com/lm-plugin/worker/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveEnvFile  string
	serveStorage  string
	serveLogFile  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the worker",
	Long: `Start the worker and expose it over HTTP.

The foreground attaches to /port with a websocket. Settings are reloaded
whenever one of the config files changes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Environment file loaded before the config")
	serveCmd.Flags().StringVar(&serveStorage, "storage", "", "Persistence backend: file, bolt or memory")
	serveCmd.Flags().BoolVar(&serveLogFile, "log-file", false, "Also write logs to the state directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(serveEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	source, err := loadSource()
	if err != nil {
		return err
	}
	cfg := source.Config()
	initLogging(cfg.LogLevel, serveLogFile)
	defer logging.Close()

	logging.Info().Str("version", Version).Msg("starting lmworker")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	storageCfg := cfg.Storage
	if serveStorage != "" {
		storageCfg.Backend = serveStorage
	}
	store, closeStore, err := openStore(storageCfg, paths)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus()
	defer bus.Close()

	core := session.New(session.Options{
		Settings: source,
		Content: content.NewHTMLProvider(
			content.WithFormat(cfg.Content.Format),
			content.WithTimeout(seconds(cfg.Content.TimeoutSec)),
		),
		Completer:     stream.NewProcessor(nil),
		Codec:         persist.New(store, persist.WithKey(storageCfg.Key)),
		Bus:           bus,
		Coalesce:      millis(cfg.Timing.CoalesceMs),
		StateWindow:   millis(cfg.Timing.StateMs),
		PersistWindow: millis(cfg.Timing.PersistMs),
	})
	if err := core.Start(ctx); err != nil {
		return err
	}

	source.OnChange(func(s types.Settings) {
		logging.Info().Str("model", s.Model).Str("baseUrl", s.BaseURL).Msg("settings reloaded")
	})
	go func() {
		if err := source.Watch(ctx); err != nil {
			logging.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	endpoint := channel.NewEndpoint(core, bus)

	serverCfg := server.ConfigFrom(cfg.Server)
	if servePort != 0 {
		serverCfg.Port = servePort
	}
	if serveHostname != "" {
		serverCfg.Host = serveHostname
	}
	srv := server.New(serverCfg, core, endpoint, bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			core.Shutdown(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The foreground hears complete before the listener goes away.
	if err := endpoint.Close(); err != nil {
		logging.Warn().Err(err).Msg("endpoint close")
	}
	// Ends the SSE streams; the endpoint is already unsubscribed.
	bus.PublishSync(event.ForNotification(types.CompleteNotification()))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown")
	}
	if err := core.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("core shutdown")
	}

	logging.Info().Msg("worker stopped")
	return nil
}

// openStore opens the configured persistence backend under the standard
// data paths.
func openStore(cfg types.StorageConfig, paths *config.Paths) (persist.Store, func() error, error) {
	defaultPath := paths.StoragePath()
	if cfg.Backend == storage.BackendBolt {
		defaultPath = paths.BoltPath()
	}
	return storage.Open(cfg, defaultPath)
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func seconds(s int) time.Duration { return time.Duration(s) * time.Second }
