package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleettrack/internal/api"
	"fleettrack/internal/auth"
	"fleettrack/internal/buildinfo"
	"fleettrack/internal/config"
	"fleettrack/internal/metrics"
	"fleettrack/internal/tracking"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking engine and its HTTP read surface",
	Long: `Run the tracking engine for one workspace.

The engine loads the active journeys snapshot, connects to the push
channel (continuing polling-only if that fails), and serves the merged
view over HTTP until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	metrics.RegisterDefault()
	buildinfo.SetDeployment(cfg.WorkspaceID, cfg.Channel.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := tokenSource(cfg)
	src, closeSrc, err := buildSource(cfg, tokens)
	if err != nil {
		return err
	}
	defer closeSrc()
	tr, closeTr, err := buildTransport(cfg, tokens)
	if err != nil {
		return err
	}
	defer closeTr()

	engine := tracking.New(tracking.OptionsFromConfig(cfg), tracking.Deps{
		Source:    src,
		Transport: tr,
		Notifier:  buildNotifier(ctx, cfg),
	})
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewServer(engine, auth.NewVerifier(cfg.Auth.HMACSecret)).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("tracker listening on %s (workspace %s)", srv.Addr, cfg.WorkspaceID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
	case err := <-errc:
		if err != nil {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
