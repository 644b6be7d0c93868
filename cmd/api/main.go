package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/poller"
	"server/internal/providers/video"
	"server/internal/registry"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	metrics := infra.NewPromMetrics("videogen")

	scratch, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize scratch storage")
	}

	// Durable storage is optional; without it every asset stays on the
	// local fallback.
	var durable pipeline.DurableStore
	if cfg.BucketBaseURL != "" {
		bucket, err := storage.NewBucketStore(storage.BucketOptions{
			BaseURL: cfg.BucketBaseURL,
			Bucket:  cfg.BucketName,
			APIKey:  cfg.BucketAPIKey,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize bucket storage")
		}
		durable = bucket
	} else {
		logger.Warn().Msg("no bucket configured, assets will stay on local storage")
	}

	provider, err := video.NewClient(video.Options{
		APIKey:  cfg.VideoAPIKey,
		BaseURL: cfg.VideoBaseURL,
		Model:   cfg.VideoModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize video provider")
	}

	jobs := registry.NewMemory()

	pipe := pipeline.New(pipeline.Options{
		Source:   provider,
		Scratch:  scratch,
		Durable:  durable,
		Registry: jobs,
		Logger:   &logger,
		Metrics:  metrics,
	})

	engine := poller.New(poller.Options{
		Source:          provider,
		Runner:          pipe,
		Registry:        jobs,
		Logger:          &logger,
		Metrics:         metrics,
		InitialInterval: cfg.PollInterval,
		MaxInterval:     cfg.PollMaxInterval,
	})

	app := &handlers.App{
		Logger:        logger,
		Registry:      jobs,
		Provider:      provider,
		Poller:        engine,
		Pipeline:      pipe,
		Metrics:       metrics,
		StaticBaseURL: "/static",
	}

	router := httpapi.NewRouter(httpapi.Options{
		App:             app,
		Logger:          logger,
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       cfg.StoragePath,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	engine.Close()
	logger.Info().Msg("server stopped")
}
