// Command controller runs the cloud-facing HTTP API that translates user
// requests into RPC calls toward devices, through the mediator.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustyeddy/sprinkler/broker"
	"github.com/rustyeddy/sprinkler/config"
	"github.com/rustyeddy/sprinkler/httpapi"
	"github.com/rustyeddy/sprinkler/logging"
	"github.com/rustyeddy/sprinkler/rpc"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "controller",
	Short:         "Expose the cloud HTTP API for the device fleet",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("controller exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadController()
	if err != nil {
		return err
	}

	logCfg := logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: logging.DefaultOutput}
	logService, err := logging.NewService(logCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote := broker.New(broker.Config{
		Host:     cfg.RemoteBroker.Host,
		Port:     cfg.RemoteBroker.Port,
		Username: cfg.RemoteBroker.Username,
		Password: cfg.RemoteBroker.Password,
	})
	if err := remote.Connect(ctx); err != nil {
		return err
	}
	defer remote.Close()

	engine := rpc.NewEngine(remote, cfg.CloudPrefix, cfg.RPCTimeout, cfg.RPCRetries)
	adapter := httpapi.NewAdapter(engine)

	mux := http.NewServeMux()
	adapter.Routes(mux)
	mux.Handle("/api/log", logService)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
