package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/chanrelay/internal/logging"
	"github.com/Tyrowin/chanrelay/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	envFile  string
	addr     string
	httpAddr string
	logLevel string
}

func serveCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the relay server.

Settings are read from CHANRELAY_* environment variables, optionally loaded
from an env file first. Flags override the environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "Env file to load before reading CHANRELAY_* variables")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "TCP listen address (overrides CHANRELAY_ADDR)")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "HTTP listen address for /ws, /healthz, /metrics (overrides CHANRELAY_HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides CHANRELAY_LOG_LEVEL)")

	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	if err := loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if cmd.Flags().Changed("http-addr") {
		cfg.HTTPAddr = opts.httpAddr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger("chanrelay", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv := server.NewServer(*cfg, logger)
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("chanrelay started",
		zap.String("version", version),
		zap.Stringer("addr", srv.Addr()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal", zap.String("signal", sig.String()))

	return srv.Shutdown()
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
