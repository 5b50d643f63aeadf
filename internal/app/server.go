package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/rl1809/pos-checkout/internal/adapter/handler"
	"github.com/rl1809/pos-checkout/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Routes builds the HTTP API.
func (a *App) Routes() http.Handler {
	serverMetrics := metrics.NewServerMetrics(a.Registry)
	h := handler.NewHTTPHandler(a.Checkout, a.Logger, a.pingers...)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HealthCheck)
	mux.Handle("/api/checkout", serverMetrics.Wrap("checkout", http.HandlerFunc(h.Checkout)))
	mux.Handle("/metrics", metrics.Handler(a.Registry))
	return mux
}

// Serve runs the HTTP and gRPC servers until ctx ends, then shuts both
// down gracefully.
func (a *App) Serve(ctx context.Context) error {
	grpcServer := grpc.NewServer()
	handler.RegisterCheckoutServer(grpcServer, handler.NewGRPCHandler(a.Checkout, a.Logger))

	lis, err := net.Listen("tcp", a.Config.GRPC.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		a.Logger.Info("gRPC server listening", "addr", a.Config.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	httpServer := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info("HTTP server listening", "addr", a.Config.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		a.Logger.Error("server error", "error", serveErr)
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("HTTP shutdown", "error", err)
	}
	a.Logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	a.Logger.Info("gRPC server stopped")
	return serveErr
}
