package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"maskstudio/internal/editor"
	"maskstudio/internal/http/handlers"
	httpapi "maskstudio/internal/http/httpapi"
	"maskstudio/internal/infra"
	"maskstudio/internal/infra/geoip"
	"maskstudio/internal/mask"
	"maskstudio/internal/middleware"
	"maskstudio/internal/providers/catalog"
	"maskstudio/internal/providers/hosted"
	"maskstudio/internal/providers/image"
	"maskstudio/internal/providers/openai"
	"maskstudio/internal/usage"
)

const janitorInterval = time.Minute

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder, summarizer, closeDB := setupUsage(ctx, cfg, logger)
	defer closeDB()

	providers, err := setupProviders(cfg, recorder, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure providers")
	}
	cat, err := catalog.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load provider catalog")
	}

	sessions := editor.NewRegistry(editor.Options{
		Debounce: cfg.MaskDebounce,
		Mapper: mask.MapperOptions{
			MaxHeightFraction: cfg.MaskMaxHeightFraction,
			MaxHeightPx:       cfg.MaskMaxHeightPx,
		},
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	}, cfg.SessionTTL)

	app := handlers.NewApp(providers, cat, sessions, logger)
	app.MaxUploadBytes = cfg.MaxUploadBytes
	app.MaxImagePixels = cfg.MaxImagePixels
	app.AllowOrigins(cfg.CORSAllowedOrigins)
	if summarizer != nil {
		app.Usage = summarizer
	}

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		defer func() { _ = resolver.Close() }()
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Strs("providers", providers.Names()).Msg("API listening")
		return server.Run(gctx, cfg.HTTPIdleTimeout)
	})
	g.Go(func() error {
		return sessions.Run(gctx, janitorInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}

// setupUsage connects the usage store when DATABASE_URL is set. Without a
// database every provider call is still logged but not persisted.
func setupUsage(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (usage.Recorder, handlers.UsageSummarizer, func()) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		if !errors.Is(err, infra.ErrNoDatabase) {
			logger.Warn().Err(err).Msg("usage recording disabled")
		}
		return usage.NewLogging(usage.Nop{}, logger), nil, func() {}
	}
	store := usage.NewPGRecorder(infra.NewSQLRunner(pool, logger.With().Str("component", "sql").Logger()))
	migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		logger.Warn().Err(err).Msg("usage recording disabled")
		pool.Close()
		return usage.NewLogging(usage.Nop{}, logger), nil, func() {}
	}
	return usage.NewLogging(store, logger), store, pool.Close
}

// setupProviders builds the provider registry. OpenAI is always present and
// the default; the hosted backend is added when it has a key.
func setupProviders(cfg *infra.Config, rec usage.Recorder, logger zerolog.Logger) (*image.Registry, error) {
	providerLog := logger.With().Str("component", "provider").Logger()
	oa, err := openai.NewClient(openai.Options{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		Model:        cfg.OpenAIImageModel,
		Logger:       &providerLog,
	})
	if err != nil {
		return nil, err
	}
	list := []image.Provider{usage.Instrument(image.WithRetry(oa, cfg.ProviderMaxRetries), rec)}

	if cfg.HostedAPIKey != "" {
		h, err := hosted.NewClient(hosted.Options{
			APIKey:       cfg.HostedAPIKey,
			BaseURL:      cfg.HostedBaseURL,
			Model:        cfg.HostedModel,
			InpaintModel: cfg.HostedInpaintModel,
			Logger:       &providerLog,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, usage.Instrument(image.WithRetry(h, cfg.ProviderMaxRetries), rec))
	}
	return image.NewRegistry(list...), nil
}
