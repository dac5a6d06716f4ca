package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"caricature/internal/bootstrap"
	"caricature/internal/http/handlers"
	httpapi "caricature/internal/http/httpapi"
	"caricature/internal/infra"
	"caricature/internal/middleware"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer svc.Close()

	orch, err := svc.Orchestrator(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure orchestrator")
	}

	// Keep the style catalog loaded for the life of the process.
	if err := svc.Styles.Open(ctx); err != nil {
		logger.Warn().Err(err).Msg("api: style catalog not loaded, retrying on first request")
	} else {
		defer svc.Styles.Close()
	}

	var lookup middleware.CountryLookup
	if svc.GeoIP != nil {
		lookup = svc.GeoIP.CountryCode
	}

	app := handlers.NewApp(orch, svc.Jobs, svc.Ledger, svc.Styles, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		CountryLookup:      lookup,
		StaticDir:          svc.Files.BasePath(),
		Logger:             logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: server stopped with error")
	}
	logger.Info().Msg("api: server stopped")
}
