package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/WhyShailesh/whisper-rooms/internal/admin"
	"github.com/WhyShailesh/whisper-rooms/internal/config"
	"github.com/WhyShailesh/whisper-rooms/internal/health"
	"github.com/WhyShailesh/whisper-rooms/internal/logging"
	"github.com/WhyShailesh/whisper-rooms/internal/logring"
	"github.com/WhyShailesh/whisper-rooms/internal/metrics"
	"github.com/WhyShailesh/whisper-rooms/internal/relay"
	"github.com/WhyShailesh/whisper-rooms/internal/security"
	"github.com/WhyShailesh/whisper-rooms/internal/server"
	"github.com/WhyShailesh/whisper-rooms/internal/setup"

	"golang.org/x/time/rate"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "whisper-rooms",
		Short: "Ephemeral chat relay: direct messages and admin-gated rooms, nothing stored",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("whisper-rooms %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Health: %s\n", cfg.Health.ListenAddress)
			fmt.Printf("  Room code length: %d\n", cfg.Rooms.CodeLength)
			fmt.Printf("  Auth token set: %v\n", cfg.Security.AuthToken != "")
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8081/health", "Health endpoint URL")

	var setupConfigPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.RunWizard(os.Stdin, os.Stdout, setup.WizardOptions{
				ConfigPath: setupConfigPath,
			})
		},
	}
	setupCmd.Flags().StringVar(&setupConfigPath, "config-path", "", "Override config file path (default: /etc/whisper-rooms/config.yaml)")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, setupCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	// Set up logging; the ring feeds the admin log API
	ring := logring.NewRing(1000)
	lj := logging.Setup(cfg.Logging, ring)
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting whisper-rooms",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"health", cfg.Health.ListenAddress,
	)

	// Optional Prometheus metrics
	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	// Relay core and connection accounting
	rel := relay.New(relay.Options{
		CodeLength: cfg.Rooms.CodeLength,
		MaxMembers: cfg.Rooms.MaxMembers,
		MaxPending: cfg.Rooms.MaxPending,
		Metrics:    m,
	})
	stats := relay.NewStats()

	var rl *security.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
		rl = security.NewRateLimiter(r, cfg.Security.RateLimit.ConnectionsPerMinute)
		defer rl.Stop()
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
			"messages_per_second", cfg.Security.RateLimit.MessagesPerSecond,
		)
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	handler := server.NewHandler(cfg, rel, stats, rl, shutdownCtx)
	handler.Metrics = m

	relayServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: handler,
	}

	// reload re-reads the config file and applies reloadable fields.
	// Shared by SIGHUP and the admin API.
	reload := func() error {
		newCfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		for _, w := range config.IsReloadSafe(cfg, newCfg) {
			slog.Warn("config reload warning", "warning", w)
		}
		cfg = cfg.ApplyReloadableFields(newCfg)
		handler.UpdateConfig(cfg)
		rel.UpdateLimits(cfg.Rooms.MaxMembers, cfg.Rooms.MaxPending)
		if cfg.Security.RateLimit.Enabled && rl != nil {
			r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
			rl.UpdateRate(r, cfg.Security.RateLimit.ConnectionsPerMinute)
		}
		logging.Setup(cfg.Logging, ring)
		slog.Info("config reloaded successfully")
		return nil
	}

	// Health + admin + metrics on a loopback listener
	var healthServer *http.Server
	if cfg.Health.Enabled {
		healthHandler := health.NewHandler(rel, stats, handler.Draining, Version, cfg.Health.Detailed)

		api := admin.New(admin.Dependencies{
			Relay:      rel,
			Stats:      stats,
			Ring:       ring,
			Version:    Version,
			BuildTime:  BuildTime,
			GitCommit:  GitCommit,
			StartTime:  time.Now(),
			ReloadFunc: reload,
			GetConfig:  handler.GetConfig,
		})

		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)
		healthMux.Handle("/api/v1/", api.Handler())
		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}

		healthServer = &http.Server{
			Addr:    cfg.Health.ListenAddress,
			Handler: healthMux,
		}
	}

	if healthServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("relay listening", "address", cfg.Server.ListenAddress)
		var err error
		if cfg.Server.TLS.Enabled {
			err = relayServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = relayServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("relay server error", "error", err)
		}
	}()

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			if err := reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			// Tell active connections to close gracefully, then stop
			// accepting and wait out the drain window.
			handler.StartDrain()
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			var wg sync.WaitGroup
			if healthServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					healthServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				relayServer.Shutdown(ctx)
			}()
			wg.Wait()
			shutdownCancel()

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=whisper-rooms - Ephemeral Chat Relay
Documentation=https://github.com/WhyShailesh/whisper-rooms
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=whisper-rooms
Group=whisper-rooms
ExecStartPre=/usr/local/bin/whisper-rooms validate --config /etc/whisper-rooms/config.yaml
ExecStart=/usr/local/bin/whisper-rooms start --config /etc/whisper-rooms/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/whisper-rooms
LogsDirectory=whisper-rooms
StateDirectory=whisper-rooms
LimitNOFILE=65535

# No message is ever buffered beyond the synchronous relay, so memory
# scales with connection count, not traffic.
MemoryMax=256M

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=whisper-rooms

[Install]
WantedBy=multi-user.target
`)
}
