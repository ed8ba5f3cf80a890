package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates and configures the HTTP server with security settings.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits. A clean
// shutdown returns nil.
func StartServer(server *http.Server, logger *slog.Logger) error {
	logger.Info("server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting HTTP requests, then shuts the hub down so
// every WebSocket is closed and its goroutines have exited.
func ShutdownServer(server *http.Server, hub *Hub, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
		errs = append(errs, err)
	}

	remaining := time.Until(deadlineOf(ctx, timeout))
	if err := hub.Shutdown(remaining); err != nil {
		logger.Error("hub shutdown failed", "err", err)
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		logger.Info("graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func deadlineOf(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}
