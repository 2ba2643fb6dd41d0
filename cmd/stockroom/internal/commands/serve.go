package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/stockroom/internal/auth"
	httpapi "github.com/wolfeidau/stockroom/internal/http"
	"github.com/wolfeidau/stockroom/internal/logger"
)

type ServeCmd struct {
	Listen      string   `help:"HTTP server listen address" default:"127.0.0.1:8080" env:"STOCKROOM_LISTEN"`
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"STOCKROOM_CORS_ORIGINS"`

	JWTSecret       string `help:"HMAC secret used to verify tenant tokens" env:"STOCKROOM_JWT_SECRET"`
	JWTPublicKeyPEM string `help:"path to an ECDSA public key (PEM) used to verify tenant tokens" type:"path" env:"STOCKROOM_JWT_PUBLIC_KEY"`

	Tracing bool `help:"export traces and metrics over OTLP" default:"false" env:"STOCKROOM_TRACING"`

	Store     StoreFlags     `embed:""`
	Inventory InventoryFlags `embed:""`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	shutdownTelemetry := setupTelemetry(ctx, c.Tracing, globals.Version, log)
	defer shutdownTelemetry()

	verifier, err := c.verifier()
	if err != nil {
		return err
	}
	if verifier == nil {
		log.Warn().Msg("No token key configured, tenants are resolved from the X-Tenant-ID header only")
	}

	engine, closeStore, err := c.Store.open(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	app := newStack(engine, c.Inventory, log)

	var handler http.Handler = httpapi.NewHandler(app.service, verifier, log)
	handler = withCORS(c.CORSOrigins, handler)
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "stockroom")
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("auth", verifier != nil).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}

	log.Info().Int("low_stock_alerts", len(app.alerts.Recent())).Msg("Server stopped")
	return nil
}

func (c *ServeCmd) verifier() (*auth.Verifier, error) {
	switch {
	case c.JWTSecret != "" && c.JWTPublicKeyPEM != "":
		return nil, errors.New("configure either --jwt-secret or --jwt-public-key-pem, not both")
	case c.JWTSecret != "":
		return auth.NewHMACVerifier([]byte(c.JWTSecret))
	case c.JWTPublicKeyPEM != "":
		data, err := os.ReadFile(c.JWTPublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		return auth.NewECVerifierFromPEM(string(data))
	}
	return nil, nil
}

func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", auth.TenantHeader, httpapi.RequestIDHeader},
		ExposedHeaders: []string{httpapi.RequestIDHeader},
	})
	return middleware.Handler(h)
}
