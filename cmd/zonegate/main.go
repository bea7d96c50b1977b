package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zonegate/pkg/api"
	"zonegate/pkg/cache"
	"zonegate/pkg/config"
	"zonegate/pkg/delegation"
	"zonegate/pkg/doh"
	"zonegate/pkg/gate"
	"zonegate/pkg/logging"
	"zonegate/pkg/policy"
	"zonegate/pkg/ratelimit"
	"zonegate/pkg/resolver"
	"zonegate/pkg/storage"
	"zonegate/pkg/telemetry"
)

var (
	configPath = flag.String("config", "config.yml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("zonegate starting",
		"version", version,
		"build_time", buildTime,
	)

	ctx := context.Background()
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	store, err := storage.New(&cfg.Storage, metrics)
	if err != nil {
		logger.Error("Failed to initialize decision log", "error", err)
		os.Exit(1)
	}

	answerCache, err := cache.New(&cfg.Cache, logger)
	if err != nil {
		logger.Error("Failed to initialize answer cache", "error", err)
		os.Exit(1)
	}

	bootstrap := resolver.New(cfg.BootstrapDNSServers, logger)
	dohClient := doh.NewClient(
		cfg.DoH.Endpoint,
		bootstrap.NewHTTPClient(cfg.DoH.Timeout),
		logger,
	)

	evaluator := delegation.NewEvaluator(dohClient, answerCache, logger, metrics)
	verdicts := delegation.NewVerdicts(logger, metrics)

	var policyEngine *policy.Engine
	if cfg.Policy.Enabled {
		policyEngine, err = policy.NewEngine(cfg.Policy.Rules, logger)
		if err != nil {
			logger.Error("Failed to compile policy rules", "error", err)
			os.Exit(1)
		}
	}

	exempt, err := gate.NewExemptList(cfg.Gate.Exempt)
	if err != nil {
		logger.Error("Failed to parse exemption patterns", "error", err)
		os.Exit(1)
	}
	roots := gate.NewActiveRoots(cfg.Gate.ActiveRootDomains, logger)

	requestGate := gate.New(evaluator, verdicts, policyEngine, roots, exempt, store, logger, metrics)

	limiter := ratelimit.NewManager(&cfg.API.RateLimit, logger)

	server := api.New(&api.Config{
		ListenAddress: cfg.API.ListenAddress,
		Gate:          requestGate,
		Verdicts:      verdicts,
		AnswerCache:   answerCache,
		Storage:       store,
		Logger:        logger,
		Version:       version,
		AuthEnabled:   cfg.API.AuthEnabled,
		Username:      cfg.API.Username,
		PasswordHash:  cfg.API.PasswordHash,
		RateLimiter:   limiter,
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	// Hot reload for policy rules, exemptions, and API auth
	watcher, err := config.NewWatcher(*configPath, logger.Logger)
	if err != nil {
		logger.Warn("Config watcher unavailable, hot reload disabled", "error", err)
	} else {
		watcher.OnChange(func(newCfg *config.Config) {
			if policyEngine != nil && newCfg.Policy.Enabled {
				if err := policyEngine.Reload(newCfg.Policy.Rules); err != nil {
					logger.Error("Policy reload failed, keeping old rules", "error", err)
				}
			}
			if err := exempt.Reload(newCfg.Gate.Exempt); err != nil {
				logger.Error("Exemption reload failed, keeping old patterns", "error", err)
			}
			for _, root := range newCfg.Gate.ActiveRootDomains {
				roots.Add(root)
			}
			server.UpdateAuth(newCfg.API.AuthEnabled, newCfg.API.Username, newCfg.API.PasswordHash)
		})
		go func() {
			if err := watcher.Start(serverCtx); err != nil {
				logger.Warn("Config watcher stopped", "error", err)
			}
		}()
	}

	// Retention cleanup for the decision log
	if cfg.Storage.Enabled && cfg.Storage.RetentionDays > 0 {
		retention := time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour
		go func() {
			ticker := time.NewTicker(6 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-serverCtx.Done():
					return
				case <-ticker.C:
					if err := store.Cleanup(serverCtx, time.Now().Add(-retention)); err != nil {
						logger.Warn("Decision log cleanup failed", "error", err)
					}
				}
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(serverCtx); err != nil {
			errChan <- err
		}
	}()

	logger.Info("zonegate is running",
		"api_address", cfg.API.ListenAddress,
		"doh_endpoint", cfg.DoH.Endpoint,
		"active_roots", roots.Len(),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		serverCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during API shutdown", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("Error closing decision log", "error", err)
		}
		if err := answerCache.Close(); err != nil {
			logger.Error("Error closing answer cache", "error", err)
		}
		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during telemetry shutdown", "error", err)
		}
		limiter.Stop()

		logger.Info("zonegate stopped")

	case err := <-errChan:
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
