// Package main is the entry point for the nut-mcp server.
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

	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jamesprial/nut-mcp/internal/auth"
	"github.com/jamesprial/nut-mcp/internal/config"
	"github.com/jamesprial/nut-mcp/internal/logging"
	"github.com/jamesprial/nut-mcp/internal/nut"
	"github.com/jamesprial/nut-mcp/internal/safety"
	"github.com/jamesprial/nut-mcp/internal/tools"
	"github.com/jamesprial/nut-mcp/internal/ups"
)

const (
	defaultConfigPath = "/config/config.yaml"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	app := &cli.App{
		Name:   "nut-mcp",
		Usage:  "MCP server exposing Network UPS Tools devices",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"NUT_MCP_CONFIG_PATH"},
				Value:   defaultConfigPath,
				Usage:   "path to the YAML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "overrides log.level from the config file",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	path := c.String("config")
	cfg, loadErr := config.LoadConfig(path)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if loadErr != nil {
		logger.Warn("could not load config, using defaults", zap.String("path", path), zap.Error(loadErr))
	} else {
		logger.Info("loaded config", zap.String("path", path))
	}

	tokenBefore := cfg.Server.AuthToken
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		logger.Warn("could not generate auth token, running without authentication", zap.Error(err))
	} else if tokenBefore == "" {
		logger.Info("generated auth token (set NUT_MCP_AUTH_TOKEN to persist)", zap.String("token", token))
	}

	var auditLogger *safety.AuditLogger
	if cfg.Audit.Enabled {
		auditLogger, err = safety.OpenAuditLog(cfg.Audit.LogPath)
		if err != nil {
			logger.Warn("audit logging disabled", zap.String("path", cfg.Audit.LogPath), zap.Error(err))
		} else {
			defer func() { _ = auditLogger.Close() }()
		}
	}

	upsFilter := safety.NewFilter(cfg.Safety.UPS.Allowlist, cfg.Safety.UPS.Denylist)

	monitor, err := newMonitor(cfg.NUT, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := monitor.Close(); err != nil {
			logger.Warn("closing upsd connection", zap.Error(err))
		}
	}()

	mcpServer := server.NewMCPServer(
		"nut-mcp",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	if err := tools.RegisterAll(mcpServer, ups.UPSTools(monitor, upsFilter, auditLogger), logger); err != nil {
		return err
	}

	httpHandler := server.NewStreamableHTTPServer(mcpServer)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           auth.NewAuthMiddleware(cfg.Server.AuthToken, logger)(httpHandler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("nut-mcp listening",
			zap.String("addr", addr),
			zap.String("upsd", fmt.Sprintf("%s:%d", cfg.NUT.Host, cfg.NUT.Port)),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// newMonitor builds the upsd monitor from the nut section of the config.
func newMonitor(cfg config.NUTConfig, logger *zap.Logger) (*ups.NUTUPSMonitor, error) {
	mode, err := cfg.TLSMode()
	if err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}

	return ups.NewNUTUPSMonitor(ups.MonitorConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Dialer: &nut.TCPDialer{
			Timeout:   cfg.TimeoutDuration(),
			TLSMode:   mode,
			TLSConfig: tlsCfg,
			Logger:    logger.Named("nut"),
		},
		Timeout:       cfg.TimeoutDuration(),
		RetryAttempts: cfg.RetryAttempts,
		Logger:        logger,
	}), nil
}
