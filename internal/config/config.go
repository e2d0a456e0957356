package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the HTTP servers, workers and bot.
type Config struct {
	LogLevel string

	DatabaseDriver string
	MySQLDSN       string
	SQLitePath     string

	APIListenAddr      string
	AdminListenAddr    string
	AdminUsername      string
	AdminPassword      string
	JWTSecret          string
	CORSAllowedOrigins []string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UsePathStyle bool
	S3Prefix       string
	PresignTTL     time.Duration

	ImageProvider        string
	KIEAPIKey            string
	KIEBaseURL           string
	KIEModel             string
	GeminiAPIKey         string
	GeminiBaseURL        string
	GeminiModel          string
	TransformInstruction string
	RequestTimeout       time.Duration
	MaxUploadBytes       int64

	PackPriceMinor   int64
	Currency         string
	CreditsPerPack   int
	RefundOnFailure  bool
	FreeTrialCredits int

	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	QueueBackend  string
	QueueName     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WorkerCount   int
	StuckAfter    time.Duration

	BotToken         string
	TelegramPayToken string
}

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	ProviderKIE    = "kie"
	ProviderGemini = "gemini"

	QueueMemory = "memory"
	QueueRedis  = "redis"
)

const defaultInstruction = "Transform this photo into a polished, vibrant illustration while keeping the subject recognizable."

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DatabaseDriver:       strings.ToLower(getEnv("DATABASE_DRIVER", DriverMySQL)),
		MySQLDSN:             os.Getenv("MYSQL_DSN"),
		SQLitePath:           getEnv("SQLITE_PATH", "photoremix.db"),
		APIListenAddr:        getEnv("API_LISTEN_ADDR", ":8000"),
		AdminListenAddr:      getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		CORSAllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3Region:             os.Getenv("S3_REGION"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3UsePathStyle:       getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:             getEnv("S3_PREFIX", "photos"),
		PresignTTL:           getDuration("PRESIGN_TTL", 15*time.Minute),
		ImageProvider:        strings.ToLower(getEnv("IMAGE_PROVIDER", ProviderKIE)),
		KIEAPIKey:            os.Getenv("KIE_API_KEY"),
		KIEBaseURL:           normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:             getEnv("KIE_MODEL", "google/nano-banana-edit"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:        strings.TrimRight(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		TransformInstruction: getEnv("TRANSFORM_INSTRUCTION", defaultInstruction),
		RequestTimeout:       time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		MaxUploadBytes:       getInt64("MAX_UPLOAD_BYTES", 3<<20),
		PackPriceMinor:       getInt64("PACK_PRICE_MINOR", 500),
		Currency:             strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd")),
		CreditsPerPack:       getInt("CREDITS_PER_PACK", 10),
		RefundOnFailure:      getBool("REFUND_ON_FAILURE", true),
		FreeTrialCredits:     getInt("FREE_TRIAL_CREDITS", 0),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:   getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
		CheckoutCancelURL:    getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
		QueueBackend:         strings.ToLower(getEnv("QUEUE_BACKEND", QueueMemory)),
		QueueName:            getEnv("QUEUE_NAME", "photoremix:generations"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		WorkerCount:          getInt("WORKER_COUNT", 4),
		StuckAfter:           getDuration("STUCK_AFTER", 15*time.Minute),
		BotToken:             os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramPayToken:     os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN"),
	}

	var missing []string
	switch cfg.DatabaseDriver {
	case DriverMySQL:
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case DriverSQLite:
	default:
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	switch cfg.ImageProvider {
	case ProviderKIE, ProviderGemini:
	default:
		return Config{}, fmt.Errorf("unsupported IMAGE_PROVIDER %q", cfg.ImageProvider)
	}
	switch cfg.QueueBackend {
	case QueueMemory, QueueRedis:
	default:
		return Config{}, fmt.Errorf("unsupported QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	return cfg, nil
}

// normalizeKIEBaseURL ensures we always hit the API host; the root kie.ai domain serves HTML.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile overlays the first env file found. Running without one is fine.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
