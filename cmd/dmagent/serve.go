package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dmagent/internal/server"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Serves dice rolls, session management and dispatcher turns as JSON over HTTP, with Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			a.cfg.Server.Addr = addr
		}

		d, err := a.dispatcher(cmd.Context())
		if err != nil {
			return err
		}
		roller, err := a.roller()
		if err != nil {
			return fmt.Errorf("seed dice roller: %w", err)
		}

		api := server.New(d, a.sessionStore(), roller,
			server.WithLogger(a.logger),
			server.WithGatherer(a.registry),
		)
		srv := &http.Server{
			Addr:              a.cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			a.logger.Info("http server listening", "addr", srv.Addr, "session_backend", a.cfg.Session.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			a.logger.Info("shutting down", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
				return srv.Close()
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}
