package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/code-atlantic/abridge/internal/config"
	"github.com/code-atlantic/abridge/internal/logger"
	"github.com/code-atlantic/abridge/internal/store"
	"github.com/code-atlantic/abridge/pkg/ability"
	"github.com/code-atlantic/abridge/pkg/bridge"
	"github.com/code-atlantic/abridge/pkg/builtin"
	"github.com/code-atlantic/abridge/pkg/gateway"
	"github.com/code-atlantic/abridge/pkg/hooks"
	"github.com/code-atlantic/abridge/pkg/nonce"
	"github.com/code-atlantic/abridge/pkg/ratelimit"
	"github.com/code-atlantic/abridge/pkg/settings"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	Long: `Run the gateway server in the foreground. The server exposes tool
discovery, nonce issuance, tool execution, and a websocket event feed under
` + gateway.APIPrefix + `.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	zl := lg.Zerolog()

	db, err := store.OpenSQLite(cfg.DBPath, zl)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	st := settings.New(db)
	h := hooks.New()

	registry := ability.NewRegistry()
	if cfg.Tools.IncludeBuiltin {
		if err := builtin.Register(registry, db); err != nil {
			return fmt.Errorf("failed to register built-in tools: %w", err)
		}
		zl.Info().Int("abilities", registry.Len()).Msg("Built-in tools registered")
	}

	counters := ratelimit.NewMemoryStore()
	limiter := ratelimit.New(counters, ratelimit.Config{
		PerToolLimit:   cfg.RateLimit.PerToolLimit,
		GlobalCeiling:  cfg.RateLimit.GlobalCeiling,
		DiscoveryLimit: cfg.RateLimit.DiscoveryLimit,
		Window:         cfg.Window(),
	}, zl)

	b := bridge.New(registry, st, h, bridge.Config{CacheTTL: cfg.CacheTTL()}, zl)

	nonces, err := nonce.NewService([]byte(cfg.Nonce.Secret), cfg.NonceTick())
	if err != nil {
		return fmt.Errorf("failed to create nonce service: %w", err)
	}

	auth := gateway.NewTokenAuthenticator(cfg.Auth.Tokens)

	server, err := gateway.NewServer(gateway.Options{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		MaxPayloadBytes: cfg.MaxPayloadBytes(),
	}, registry, b, limiter, st, nonces, h, auth, zl)
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	scheduler := startMaintenance(counters, b, zl)
	defer scheduler.Stop()

	watcher, err := config.NewWatcher(loader, func(next *config.Config) {
		// Listener topology is fixed at startup; the hot-reloadable pieces
		// are the admin settings and anything cached from them.
		b.InvalidateCache()
		zl.Info().Msg("Tool cache flushed after config change")
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable")
	} else if err := watcher.Start(); err != nil {
		zl.Warn().Err(err).Msg("Config watcher failed to start")
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	return server.Stop()
}

// startMaintenance schedules the periodic sweeps: expired rate-limit counters
// and expired bridge cache entries.
func startMaintenance(counters *ratelimit.MemoryStore, b *bridge.Bridge, zl zerolog.Logger) *cron.Cron {
	scheduler := cron.New()

	_, err := scheduler.AddFunc("@every 5m", func() {
		removed := counters.Sweep()
		pruned := b.PruneCache()
		zl.Debug().
			Int("counters", removed).
			Int("cacheEntries", pruned).
			Msg("Maintenance sweep completed")
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Failed to schedule maintenance sweep")
	}

	scheduler.Start()
	return scheduler
}
