// Package main initializes and starts the DocKeeper server, setting up
// configuration, logging, the storage connector, services, handlers and
// optional TLS.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/atinyakov/DocKeeper/internal/auth"
	"github.com/atinyakov/DocKeeper/internal/config"
	"github.com/atinyakov/DocKeeper/internal/db"
	"github.com/atinyakov/DocKeeper/internal/logger"
	"github.com/atinyakov/DocKeeper/internal/repository"
	"github.com/atinyakov/DocKeeper/internal/server/handler/http"
	"github.com/atinyakov/DocKeeper/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	if options.JWTSecret == "" {
		zapLogger.Warn("JWT_SECRET is not set, token endpoints will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The server starts serving before storage is reachable. Requests
	// fail with "database is not connected" until the connector succeeds.
	handle := repository.NewHandle()
	open, err := db.OpenerFor(options)
	if err != nil {
		zapLogger.Fatal("cannot select storage", zap.Error(err))
	}
	connected := db.StartConnector(ctx, handle, open, options.RetryInterval, zapLogger)

	records := make([]*http.RecordHandler, 0, len(options.ResourceList()))
	for _, name := range options.ResourceList() {
		svc := service.NewRecordService(handle.Records(name))
		records = append(records, http.NewRecordHandler(name, svc, zapLogger))
	}
	authHandler := &http.AuthHandler{
		Tokens: auth.NewTokenManager(options.JWTSecret, auth.TokenTTL),
		Log:    zapLogger,
	}

	router := http.NewRouter(authHandler, &http.HealthHandler{Storage: handle}, records, zapLogger)
	logRoutes(router, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zapLogger.Info("starting server",
			zap.String("addr", options.Port),
			zap.String("storage", options.Storage),
			zap.Bool("tls", options.TLS()),
		)
		if options.TLS() {
			serveErr <- server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
		} else {
			serveErr <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Error("server failed", zap.Error(err))
		}
		stop()
	case <-ctx.Done():
		zapLogger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	<-connected
	if err := multierr.Combine(
		server.Shutdown(shutdownCtx),
		handle.Close(shutdownCtx),
	); err != nil {
		zapLogger.Error("shutdown", zap.Error(err))
		os.Exit(1)
	}
	zapLogger.Info("server stopped")
}

func logRoutes(r chi.Routes, log *zap.Logger) {
	err := chi.Walk(r, func(method, route string, _ nethttp.Handler, _ ...func(nethttp.Handler) nethttp.Handler) error {
		log.Debug("route", zap.String("method", method), zap.String("path", route))
		return nil
	})
	if err != nil {
		log.Warn("walk routes", zap.Error(err))
	}
}
