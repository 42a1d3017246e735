package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	JWTSecret          string
	GeoIPDBPath        string
	CORSAllowedOrigins []string
	DefaultLocale      string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIOrg        string
	OpenAIImageModel string

	HostedAPIKey       string
	HostedBaseURL      string
	HostedModel        string
	HostedInpaintModel string
	ProviderMaxRetries int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	MaxUploadBytes   int64
	MaxImagePixels   int64

	MaskDebounce          time.Duration
	MaskMaxHeightFraction float64
	MaskMaxHeightPx       float64
	SessionTTL            time.Duration
	HistoryLimit          int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		DefaultLocale:      getEnv("DEFAULT_LOCALE", "en"),

		OpenAIAPIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:        os.Getenv("OPENAI_ORG"),
		OpenAIImageModel: getEnv("OPENAI_IMAGE_MODEL", "gpt-image-1"),

		HostedAPIKey:       strings.TrimSpace(os.Getenv("HOSTED_API_KEY")),
		HostedBaseURL:      getEnv("HOSTED_BASE_URL", "https://api-inference.huggingface.co"),
		HostedModel:        getEnv("HOSTED_MODEL", "stabilityai/stable-diffusion-xl-base-1.0"),
		HostedInpaintModel: getEnv("HOSTED_INPAINT_MODEL", "diffusers/stable-diffusion-xl-1.0-inpainting-0.1"),
		ProviderMaxRetries: getEnvInt("PROVIDER_MAX_RETRIES", 1),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
		MaxImagePixels:   int64(getEnvInt("MAX_IMAGE_PIXELS", 40_000_000)),

		MaskDebounce:          time.Millisecond * time.Duration(getEnvInt("MASK_DEBOUNCE_MS", 100)),
		MaskMaxHeightFraction: getEnvFloat("MASK_MAX_HEIGHT_FRACTION", 0.7),
		MaskMaxHeightPx:       getEnvFloat("MASK_MAX_HEIGHT_PX", 768),
		SessionTTL:            time.Minute * time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)),
		HistoryLimit:          getEnvInt("MASK_HISTORY_LIMIT", 100),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.MaskMaxHeightFraction <= 0 || cfg.MaskMaxHeightFraction > 1 {
		return nil, fmt.Errorf("MASK_MAX_HEIGHT_FRACTION must be in (0, 1], got %v", cfg.MaskMaxHeightFraction)
	}
	if cfg.MaskDebounce < 0 {
		return nil, fmt.Errorf("MASK_DEBOUNCE_MS must not be negative")
	}
	if cfg.MaxImagePixels <= 0 {
		return nil, fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", cfg.MaxImagePixels)
	}
	if cfg.ProviderMaxRetries < 0 {
		cfg.ProviderMaxRetries = 0
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
