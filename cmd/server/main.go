package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lira/internal/api"
	"lira/internal/auth"
	"lira/internal/config"
	"lira/internal/inputhash"
	"lira/internal/logging"
	"lira/internal/mcp"
	"lira/internal/repository"
	"lira/internal/services"
	"lira/internal/submission"
	"lira/internal/tls"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "lira",
		Short:        "Launch secondary analysis workflows for data store notifications",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (defaults to $"+config.EnvConfigPath+")")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}

	// Initialize logging
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("Configuration loaded",
		"env", cfg.Env,
		"workflows", len(cfg.WDLs),
		"cache_wdls", cfg.CacheWDLs,
		"dry_run", cfg.DryRun,
		"use_caas", cfg.UseCaaS,
	)

	// Workflow assets and bundle metadata
	assetFetcher := services.NewObjectFetcher(
		services.WithHTTPClient(&http.Client{Timeout: cfg.Timeouts.Fetch}),
		services.WithRetries(cfg.FetchRetries),
		services.WithGCSKey(cfg.GCSKey),
		services.WithFetchLogger(logger.With("component", "fetcher")),
	)
	metadataFetcher := services.NewObjectFetcher(
		services.WithHTTPClient(&http.Client{Timeout: cfg.Timeouts.Metadata}),
		services.WithRetries(cfg.FetchRetries),
		services.WithFetchLogger(logger.With("component", "dss")),
	)
	cache := submission.NewCache(assetFetcher,
		submission.WithMemoization(cfg.CacheWDLs),
		submission.WithBuildTimeout(cfg.Timeouts.Build),
	)
	hasher := inputhash.NewHasher(services.NewDSSClient(cfg.DSSURL, metadataFetcher))

	engine, err := services.NewCromwellClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("workflow engine client: %w", err)
	}

	store, err := repository.NewMemoryWorkflowStore(cfg.WDLs)
	if err != nil {
		return err
	}

	notifications, err := services.NewNotificationService(cfg, store, cache, hasher, engine, logger)
	if err != nil {
		return err
	}
	logger.Info("Service layer initialized")

	// Initialize authentication
	authz, err := auth.New(cfg, logger.With("component", "auth"))
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	logger.Info("Authentication initialized", "mode", authz.Mode())

	opts := api.RouterOptions{
		MaxContentLength: cfg.MaxContentLength,
		Version:          cfg.Version,
	}
	if cfg.MCP.Enable {
		mcpServer := mcp.NewServer(cfg.Version, store, cache, hasher)
		mcpHandlers := http.NewServeMux()
		mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
		opts.MCP = mcpHandlers
		logger.Info("MCP operator tools mounted")
	}

	e := api.NewRouter(api.NewHandler(cfg, store, notifications, logger), authz, opts)
	e.Logger.SetOutput(logger.Writer())

	if cfg.TLS.Enable {
		generated, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("tls certificate: %w", err)
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile)
		}
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     log.New(logger.Writer(), "", 0),
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		// Create shutdown context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		stats := cache.Stats()
		logger.Info("Server stopped gracefully", "cache_hits", stats.Hits, "cache_misses", stats.Misses)
	}
	return nil
}
