package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scripthost/internal/infrastructure/config"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/server"
)

var (
	port       string
	host       string
	scriptPath string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "scripthost",
		Short:         "Run a static JavaScript file in a sandbox and serve its result",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&scriptPath, "script", "", "Script path (overrides RESOURCE_ROOT/SCRIPT_PATH)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Sandbox timeout (overrides SANDBOX_TIMEOUT)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&port, "port", "", "Listen port (overrides PORT)")
	serveCmd.Flags().StringVar(&host, "host", "", "Listen host (overrides HOST)")
	root.AddCommand(serveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "render",
		Short: "Run the script once and print its result",
		Args:  cobra.NoArgs,
		RunE:  runRender,
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if port != "" {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if scriptPath != "" {
		cfg.Script.Path = scriptPath
		cfg.Script.ResourceRoot = ""
	}
	if timeout > 0 {
		cfg.Sandbox.Timeout = timeout
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout carries the result; logs go to stderr
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	host, err := server.NewHost(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer host.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := host.GenerateGraph(ctx)
	if err != nil {
		logger.Debug("Render failed", zap.String("script", host.ScriptPath()), zap.Error(err))
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}
