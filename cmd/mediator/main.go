// Command mediator runs the site-local bridge between a local device
// broker and the cloud broker: it persists a device registry and turns
// cloud command topics into local RPC calls.
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
	"github.com/rustyeddy/sprinkler/mediator"
	"github.com/rustyeddy/sprinkler/registry"
	"github.com/rustyeddy/sprinkler/rpc"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "mediator",
	Short:         "Bridge a local device broker to the cloud broker",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("mediator exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadMediator()
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

	local := broker.New(broker.Config{
		Host:     cfg.LocalBroker.Host,
		Port:     cfg.LocalBroker.Port,
		Username: cfg.LocalBroker.Username,
		Password: cfg.LocalBroker.Password,
	})
	remote := broker.New(broker.Config{
		Host:     cfg.RemoteBroker.Host,
		Port:     cfg.RemoteBroker.Port,
		Username: cfg.RemoteBroker.Username,
		Password: cfg.RemoteBroker.Password,
	})

	if err := local.Connect(ctx); err != nil {
		return err
	}
	defer local.Close()

	if err := remote.Connect(ctx); err != nil {
		return err
	}
	defer remote.Close()

	reg := registry.NewStore(cfg.RegistryPath)
	if err := reg.Load(); err != nil {
		return err
	}

	engine := rpc.NewEngine(local, "", cfg.RPCTimeout, cfg.RPCRetries)
	router := mediator.NewRouter(local, remote, engine, reg, cfg.CloudPrefix)
	if err := router.Start(ctx); err != nil {
		return err
	}
	defer router.Stop()

	mux := http.NewServeMux()
	mux.Handle("/api/log", logService)
	mux.Handle("/stats", engine.Stats)
	mux.Handle("/ws/events", httpapi.NewEventStream(router.Events))

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("mediator shutting down, saving registry")
		if err := reg.Save(); err != nil {
			slog.Warn("mediator: final registry save failed", "error", err)
		}
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
