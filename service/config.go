package service

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/normalize"
)

const (
	defaultPort               = "3001"
	defaultLogLevel           = "INFO"
	defaultLogFormat          = "console"
	defaultGoogleProjectID    = "tryandfit"
	defaultGoogleLocation     = "us-central1"
	defaultTryOnModel         = "virtual-try-on-preview-08-04"
	defaultCompressionTimeout = 30
	defaultNativeTimeout      = 20
	defaultTryOnTimeout       = 300
	defaultMaxUploadBytes     = 50 << 20
	defaultPreShrinkBytes     = 5 << 20
	defaultNormalizeWorkers   = 4
	defaultNormalizeQueueSize = 64
	defaultSessionTTLSeconds  = 1800
	defaultMaxGarments        = 5
	defaultEventsDBPath       = "/tmp/mirrify_events.db"
	defaultProxyImageTimeout  = 10 * time.Second
	defaultProxyCSVTimeout    = 30 * time.Second
)

// Config holds all configuration loaded from environment variables
type Config struct {
	// Server configuration
	Port      string
	LogLevel  string
	LogFormat string

	// CORS
	FrontendURL        string
	CORSAllowedOrigins []string
	CORSAllowShopify   bool

	// Vertex AI try-on
	GoogleProjectID   string
	GoogleLocation    string
	TryOnModel        string
	GoogleCredentials string
	TryOnTimeout      time.Duration

	// Cloud compression
	TinyPNGAPIKey         string
	CompressionServiceURL string
	CompressionTimeout    time.Duration

	// Normalization
	NativeTimeout      time.Duration
	MaxUploadBytes     int64
	MaxPixels          int64
	PreShrinkBytes     int
	NormalizeWorkers   int
	NormalizeQueueSize int

	// Upload sessions
	SessionTTL    time.Duration
	MaxGarments   int
	SingleSubject bool

	// Proxies
	ProxyImageTimeout time.Duration
	ProxyCSVTimeout   time.Duration

	// Analytics events database
	EventsDBPath string
}

// NewConfig loads all configuration from environment variables with validation
func NewConfig() (*Config, error) {
	cfg := &Config{
		ProxyImageTimeout: defaultProxyImageTimeout,
		ProxyCSVTimeout:   defaultProxyCSVTimeout,
	}

	logger.Debug().Msg("starting configuration loading from environment variables")

	// Server configuration
	cfg.LogLevel = envString("LOGLEVEL", defaultLogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", defaultLogFormat)
	cfg.Port = envString("PORT", defaultPort)
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		logger.Error().Str("PORT", cfg.Port).Msg("PORT is not a number")
		return nil, fmt.Errorf("PORT must be numeric, got %q", cfg.Port)
	}

	// CORS configuration
	cfg.FrontendURL = os.Getenv("FRONTEND_URL")
	if cfg.FrontendURL != "" {
		logger.Debug().Str("FRONTEND_URL", cfg.FrontendURL).Msg("frontend URL loaded from environment")
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
		logger.Debug().Strs("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins).Msg("CORS origins loaded from environment")
	} else {
		cfg.CORSAllowedOrigins = []string{"http://localhost:3000", "http://localhost:3002"}
		logger.Debug().Strs("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins).Msg("using default CORS origins")
	}
	cfg.CORSAllowShopify = envBool("CORS_ALLOW_SHOPIFY", true)

	// Vertex AI configuration
	cfg.GoogleProjectID = envString("GOOGLE_PROJECT_ID", defaultGoogleProjectID)
	cfg.GoogleLocation = envString("GOOGLE_LOCATION", defaultGoogleLocation)
	cfg.TryOnModel = envString("TRYON_MODEL", defaultTryOnModel)
	cfg.GoogleCredentials = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if cfg.GoogleCredentials == "" {
		logger.Info().Msg("GOOGLE_APPLICATION_CREDENTIALS not set - using the metadata server for access tokens")
	} else if strings.HasPrefix(cfg.GoogleCredentials, "{") {
		logger.Debug().Msg("GOOGLE_APPLICATION_CREDENTIALS loaded as inline JSON")
	} else {
		logger.Debug().Str("GOOGLE_APPLICATION_CREDENTIALS", cfg.GoogleCredentials).Msg("GOOGLE_APPLICATION_CREDENTIALS loaded as file path")
	}
	cfg.TryOnTimeout = time.Duration(envInt("TRYON_TIMEOUT_S", defaultTryOnTimeout)) * time.Second

	// Cloud compression configuration
	cfg.TinyPNGAPIKey = os.Getenv("TINYPNG_API_KEY")
	if cfg.TinyPNGAPIKey == "" {
		logger.Warn().Msg("TINYPNG_API_KEY not set - cloud compression will answer with fallback")
	} else {
		logger.Debug().Msg("TINYPNG_API_KEY loaded from environment")
	}
	cfg.CompressionServiceURL = os.Getenv("COMPRESSION_SERVICE_URL")
	if cfg.CompressionServiceURL != "" {
		u, err := url.Parse(cfg.CompressionServiceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			logger.Error().Str("COMPRESSION_SERVICE_URL", cfg.CompressionServiceURL).Msg("invalid compression service URL")
			return nil, fmt.Errorf("COMPRESSION_SERVICE_URL must be an absolute http(s) URL")
		}
		logger.Debug().Str("COMPRESSION_SERVICE_URL", cfg.CompressionServiceURL).Msg("compression service URL loaded from environment")
	} else if cfg.TinyPNGAPIKey != "" {
		cfg.CompressionServiceURL = "http://127.0.0.1:" + cfg.Port + "/api/compress-image"
		logger.Info().Str("COMPRESSION_SERVICE_URL", cfg.CompressionServiceURL).Msg("COMPRESSION_SERVICE_URL not configured, using the local compression endpoint")
	} else {
		logger.Info().Msg("no compression service available - cloud tier disabled")
	}
	cfg.CompressionTimeout = time.Duration(envInt("COMPRESSION_TIMEOUT_S", defaultCompressionTimeout)) * time.Second

	// Normalization configuration
	cfg.NativeTimeout = time.Duration(envInt("NATIVE_TIMEOUT_S", defaultNativeTimeout)) * time.Second
	cfg.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes))
	cfg.MaxPixels = int64(envInt("MAX_INPUT_PIXELS", int(normalize.DefaultMaxPixels)))
	cfg.PreShrinkBytes = envInt("PRESHRINK_BYTES", defaultPreShrinkBytes)
	cfg.NormalizeWorkers = envInt("NORMALIZE_WORKERS", defaultNormalizeWorkers)
	cfg.NormalizeQueueSize = envInt("NORMALIZE_QUEUE_SIZE", defaultNormalizeQueueSize)

	// Upload session configuration
	cfg.SessionTTL = time.Duration(envInt("SESSION_TTL_SECONDS", defaultSessionTTLSeconds)) * time.Second
	cfg.MaxGarments = envInt("MAX_GARMENTS", defaultMaxGarments)
	cfg.SingleSubject = envBool("SINGLE_SUBJECT", true)

	// Analytics database configuration
	cfg.EventsDBPath = envString("EVENTS_DB_PATH", defaultEventsDBPath)

	logger.Debug().Msg("configuration loading completed successfully")

	return cfg, nil
}

// TryOnURL returns the Vertex AI predict endpoint for the configured model.
func (c *Config) TryOnURL() string {
	return PredictURL(c.GoogleLocation, c.GoogleProjectID, c.TryOnModel)
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		logger.Debug().Str(key, def).Msg("using default value")
		return def
	}
	logger.Debug().Str(key, v).Msg("value loaded from environment")
	return v
}

// envInt returns def for unset, unparseable or non-positive values.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		logger.Debug().Int(key, def).Msg("using default value")
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || parsed <= 0 {
		logger.Warn().Str(key, v).Err(err).Int("default", def).Msg("invalid value, using default")
		return def
	}
	logger.Debug().Int(key, parsed).Msg("value loaded from environment")
	return parsed
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		logger.Debug().Bool(key, def).Msg("using default value")
		return def
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().Str(key, v).Err(err).Bool("default", def).Msg("invalid value, using default")
		return def
	}
	logger.Debug().Bool(key, parsed).Msg("value loaded from environment")
	return parsed
}

// NewTestConfig creates a minimal Config for testing purposes
func NewTestConfig() *Config {
	return &Config{
		Port:               defaultPort,
		LogLevel:           defaultLogLevel,
		LogFormat:          defaultLogFormat,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		CORSAllowShopify:   true,
		GoogleProjectID:    defaultGoogleProjectID,
		GoogleLocation:     defaultGoogleLocation,
		TryOnModel:         defaultTryOnModel,
		TryOnTimeout:       5 * time.Second,
		CompressionTimeout: 5 * time.Second,
		NativeTimeout:      5 * time.Second,
		MaxUploadBytes:     defaultMaxUploadBytes,
		MaxPixels:          normalize.DefaultMaxPixels,
		PreShrinkBytes:     defaultPreShrinkBytes,
		NormalizeWorkers:   2,
		NormalizeQueueSize: 16,
		SessionTTL:         time.Duration(defaultSessionTTLSeconds) * time.Second,
		MaxGarments:        defaultMaxGarments,
		SingleSubject:      true,
		ProxyImageTimeout:  defaultProxyImageTimeout,
		ProxyCSVTimeout:    defaultProxyCSVTimeout,
		EventsDBPath:       ":memory:",
	}
}
