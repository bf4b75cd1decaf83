package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treadlog/treadlog/internal/alerts"
	"github.com/treadlog/treadlog/internal/api"
	"github.com/treadlog/treadlog/internal/config"
	"github.com/treadlog/treadlog/internal/health"
	"github.com/treadlog/treadlog/internal/lookup"
	"github.com/treadlog/treadlog/internal/metrics"
	"github.com/treadlog/treadlog/internal/quota"
	"github.com/treadlog/treadlog/internal/store"
	"github.com/treadlog/treadlog/internal/telegram"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the TreadLog server",
	Long: `Start the TreadLog server in main mode.

This command starts the HTTP server that handles quota admission, metered
vehicle lookups, usage accounting and pool alerting.

Example:
  treadlog serve --config config.yaml --db ./data/treadlog.db

The server will start listening on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host       string
	Port       int
	Timeout    time.Duration
	TLS        bool
	TLSCert    string
	TLSKey     string
	TLSVersion string
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", envDuration("SHUTDOWN_TIMEOUT", 30*time.Second), "Shutdown timeout")
	serveCmd.Flags().BoolVar(&serveFlags.TLS, "tls", false, "Enable TLS/HTTPS")
	serveCmd.Flags().StringVar(&serveFlags.TLSCert, "cert", "", "TLS certificate file path")
	serveCmd.Flags().StringVar(&serveFlags.TLSKey, "key", "", "TLS key file path")
	serveCmd.Flags().StringVar(&serveFlags.TLSVersion, "tls-version", "1.3", "Minimum TLS version (1.2 or 1.3)")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting TreadLog server...")
		log.Printf("Config path: %s", globalFlags.Config)
		log.Printf("Database path: %s", globalFlags.DBPath)
	}

	// Load configuration
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Apply CLI flags to config
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.TLS {
		cfg.Server.TLS.Enabled = true
	}
	if serveFlags.TLSCert != "" {
		cfg.Server.TLS.CertFile = serveFlags.TLSCert
	}
	if serveFlags.TLSKey != "" {
		cfg.Server.TLS.KeyFile = serveFlags.TLSKey
	}
	if serveFlags.TLSVersion != "" {
		cfg.Server.TLS.MinVersion = serveFlags.TLSVersion
	}

	if globalFlags.Verbose {
		log.Printf("Configuration loaded successfully")
		log.Printf("Server host: %s, port: %d", cfg.Server.Host, cfg.Server.HTTPPort)
	}

	if cfg.Server.TLS.Enabled {
		if err := validateTLSConfig(cfg.Server.TLS); err != nil {
			return fmt.Errorf("TLS validation failed: %w", err)
		}
	}

	// Create SQLite store with WAL mode enabled
	var sqliteStore *store.SQLiteStore
	if cfg.Cleanup.Enabled {
		sqliteStore, err = store.NewSQLiteStoreWithRetention(globalFlags.DBPath, cfg.Cleanup.RetentionDays)
	} else {
		sqliteStore, err = store.NewSQLiteStore(globalFlags.DBPath)
	}
	if err != nil {
		return fmt.Errorf("failed to create SQLite store: %w", err)
	}

	if err := seedAccountsFromConfig(sqliteStore, cfg); err != nil {
		return fmt.Errorf("failed to seed accounts from config: %w", err)
	}

	if globalFlags.Verbose {
		log.Printf("Database initialized at: %s", globalFlags.DBPath)
	}

	// Reload limits and alert settings on config file changes.
	if err := loader.StartWatcher(); err != nil {
		log.Printf("Config watcher warning: %v", err)
	}
	defer loader.StopWatcher()

	// One registry for admission, lookup, alert and HTTP series.
	m := metrics.NewMetrics("treadlog")

	engine := quota.NewEngine(sqliteStore,
		quota.WithGraceWindow(cfg.Quota.GraceWindow),
		quota.WithMetrics(m),
	)

	var lookupSvc *lookup.Service
	if cfg.Lookup.Enabled {
		client := lookup.NewClient(cfg.Lookup.BaseURL, cfg.Lookup.APIKey,
			lookup.WithTimeout(cfg.Lookup.Timeout),
			lookup.WithRetries(cfg.Lookup.RetryAttempts),
		)
		lookupSvc = lookup.NewService(engine, sqliteStore, client,
			lookup.WithMetrics(m),
			lookup.WithCacheTTL(cfg.Lookup.CacheTTL),
		)
	}

	var alertSvc *alerts.Service
	var alertCancel context.CancelFunc
	if cfg.Alerts.Enabled {
		opts := []alerts.ServiceOption{alerts.WithMetrics(m)}
		if cfg.Telegram.Enabled {
			notifier, err := telegram.NewNotifier(cfg.Telegram)
			if err != nil {
				log.Printf("Telegram setup warning: %v", err)
			} else {
				opts = append(opts, alerts.WithNotifier(notifier))
				telegram.Notify(cfg.Telegram.BotToken, cfg.Telegram.ChatID, "TreadLog server starting")
			}
		}
		alertSvc = alerts.NewService(sqliteStore, cfg.Alerts, opts...)

		alertCtx, cancel := context.WithCancel(context.Background())
		alertCancel = cancel
		alertSvc.Start(alertCtx)
	}

	// Background monitor for the store and the lookup provider.
	healthCfg := health.Config{}
	if cfg.Lookup.Enabled {
		healthCfg.ProviderURL = cfg.Lookup.BaseURL
	}
	checker := health.NewChecker(healthCfg, sqliteStore, nil)
	checker.Start(context.Background())
	defer checker.Stop()

	// Create API server
	server := api.NewServer(cfg.Server, cfg.API, sqliteStore, engine, lookupSvc, alertSvc, m)

	setupGracefulShutdown(server, alertCancel, serveFlags.Timeout)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	if cfg.Server.TLS.Enabled {
		log.Printf("Starting TreadLog HTTPS server on %s", addr)
	} else {
		log.Printf("Starting TreadLog HTTP server on %s", addr)
	}
	log.Printf("Database: %s (WAL mode enabled)", globalFlags.DBPath)

	if err := server.Run(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// validateTLSConfig validates TLS configuration
func validateTLSConfig(tls config.TLSConfig) error {
	if tls.CertFile == "" {
		return fmt.Errorf("TLS certificate file is required when TLS is enabled")
	}
	if tls.KeyFile == "" {
		return fmt.Errorf("TLS key file is required when TLS is enabled")
	}

	if _, err := os.Stat(tls.CertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file does not exist: %s", tls.CertFile)
	}
	if _, err := os.Stat(tls.KeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file does not exist: %s", tls.KeyFile)
	}

	if tls.MinVersion != "" && tls.MinVersion != "1.2" && tls.MinVersion != "1.3" {
		return fmt.Errorf("TLS min_version must be either \"1.2\" or \"1.3\", got: %s", tls.MinVersion)
	}

	return nil
}

// setupGracefulShutdown handles graceful shutdown of all components
func setupGracefulShutdown(server *api.Server, alertCancel context.CancelFunc, timeout time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// Server shutdown stops the alert loop and closes the store.
		log.Println("Shutting down API server...")
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error during server shutdown: %v", err)
		}

		if alertCancel != nil {
			alertCancel()
		}

		log.Println("Graceful shutdown completed")
		os.Exit(0)
	}()
}

// envDuration reads a duration from the environment with a fallback
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
