package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/synest-overlay/internal/banner"
	"github.com/genricoloni/synest-overlay/internal/config"
	"github.com/genricoloni/synest-overlay/internal/domain"
	"github.com/genricoloni/synest-overlay/internal/engine"
	"github.com/genricoloni/synest-overlay/internal/fetcher"
	"github.com/genricoloni/synest-overlay/internal/overlay"
	"github.com/genricoloni/synest-overlay/internal/presence"
	"github.com/genricoloni/synest-overlay/internal/processor"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const stopTimeout = 10 * time.Second

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var overrides config.Overrides

var rootCmd = &cobra.Command{
	Use:   "synest-overlay",
	Short: "Now playing overlay for OBS",
	Long: `synest-overlay follows a Discord user's presence through the Lanyard
relay and serves a now playing widget for use as an OBS browser source.

Add http://<listen_addr>/<user_id> as a browser source. Query options:
  c=t         tint the card with colors from the album art
  t=text      render a single text line instead of the card
  f=t         put the artist first in text mode
  tr=t        keep only the first artist
  o=<0-100>   background opacity
  br=<preset> corner radius: 0, 25, 50, 75 or 100
  b=f         hide the border`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the overlay daemon (default)",
	RunE:  runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&overrides.ConfigFile, "config", "", "path to a TOML config file (env "+config.EnvConfigFile+")")
	flags.StringVar(&overrides.UserID, "user", "", "Discord user ID to follow (env "+config.EnvUserID+")")
	flags.StringVar(&overrides.ListenAddr, "addr", "", "HTTP listen address (env "+config.EnvListenAddr+")")
	flags.StringVar(&overrides.StateDir, "state-dir", "", "directory for persisted flags (env "+config.EnvStateDir+")")

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// AppOptions is the dependency graph of the daemon, minus the supplied overrides
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		fx.Annotate(config.NewAppConfig, fx.As(new(domain.Config))),
		fx.Annotate(presence.NewWSDialer, fx.As(new(presence.Dialer))),
		fx.Annotate(presence.NewClient, fx.As(new(domain.PresenceFeed))),
		fx.Annotate(fetcher.NewHTTPFetcher, fx.As(new(domain.Fetcher))),
		fx.Annotate(processor.NewColorProcessor, fx.As(new(domain.ColorExtractor))),
		engine.NewEngine,
		func(e *engine.Engine) domain.StateSource { return e },
		afero.NewOsFs,
		fx.Annotate(banner.NewFileStore, fx.As(new(domain.BannerStore))),
		overlay.NewServer,
	),

	fx.Invoke(registerHooks),
)

func runDaemon(cmd *cobra.Command, args []string) error {
	// A missing .env is the normal case
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	app := fx.New(
		fx.Supply(overrides),
		AppOptions,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	return app.Stop(stopCtx)
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// registerHooks sets up application lifecycle hooks.
// The feed starts first so the engine never reads from a dead channel, and
// the server stops first so no socket outlives the engine.
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	cfg domain.Config,
	feed domain.PresenceFeed,
	eng *engine.Engine,
	srv *overlay.Server,
) {
	feedCtx, cancelFeed := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := feed.Start(feedCtx); err != nil && feedCtx.Err() == nil {
					logger.Error("Presence feed failed", zap.Error(err))
				}
			}()

			if err := eng.Start(feedCtx); err != nil {
				return fmt.Errorf("failed to start engine: %w", err)
			}
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("failed to start overlay server: %w", err)
			}

			logger.Info("Synest overlay started",
				zap.String("version", version),
				zap.String("user", cfg.GetUserID()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")

			if err := srv.Stop(ctx); err != nil {
				logger.Warn("Overlay server did not stop cleanly", zap.Error(err))
			}
			if err := eng.Stop(ctx); err != nil {
				logger.Warn("Engine did not stop cleanly", zap.Error(err))
			}

			cancelFeed()
			return feed.Stop(ctx)
		},
	})
}
