package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registration HTTP server",
	Long: `Start the precord HTTP server on the configured listener.

By default the server binds a Unix domain socket (server.socket) for a
local reverse proxy to connect to; set server.network to "tcp" for a
TCP listener. Logs go to stdout as JSON. The server shuts down cleanly
on SIGTERM or SIGINT.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := listen(cfg.Server.Network, cfg.Server.Socket, cfg.Server.Addr)
	if err != nil {
		// A leftover socket from an unclean exit lands here. Refusing to
		// unlink it keeps two instances from silently fighting over the path.
		return fmt.Errorf("binding listener: %w", err)
	}

	srv := &http.Server{
		Handler:      app.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start the server in a goroutine so we can listen for shutdown signals.
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("precord listening", "network", cfg.Server.Network, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped cleanly")
	return nil
}

// listen binds the configured listener. Unix sockets are created with mode
// 0666 so the reverse proxy user can connect.
func listen(network, socket, addr string) (net.Listener, error) {
	switch network {
	case "unix":
		ln, err := net.Listen("unix", socket)
		if err != nil {
			return nil, err
		}
		if err := os.Chmod(socket, 0o666); err != nil {
			ln.Close() //nolint:errcheck
			return nil, fmt.Errorf("setting socket permissions: %w", err)
		}
		return ln, nil
	case "tcp":
		return net.Listen("tcp", addr)
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}
