package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOGLEVEL", "LOG_FORMAT", "FRONTEND_URL", "CORS_ALLOWED_ORIGINS", "CORS_ALLOW_SHOPIFY",
		"GOOGLE_PROJECT_ID", "GOOGLE_LOCATION", "TRYON_MODEL", "GOOGLE_APPLICATION_CREDENTIALS",
		"TINYPNG_API_KEY", "COMPRESSION_SERVICE_URL", "COMPRESSION_TIMEOUT_S", "NATIVE_TIMEOUT_S",
		"TRYON_TIMEOUT_S", "MAX_UPLOAD_BYTES", "PRESHRINK_BYTES", "NORMALIZE_WORKERS",
		"NORMALIZE_QUEUE_SIZE", "SESSION_TTL_SECONDS", "MAX_GARMENTS", "SINGLE_SUBJECT", "EVENTS_DB_PATH",
	} {
		t.Setenv(key, "")
	}

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "tryandfit", cfg.GoogleProjectID)
	assert.Equal(t, "us-central1", cfg.GoogleLocation)
	assert.Equal(t, "virtual-try-on-preview-08-04", cfg.TryOnModel)
	assert.Equal(t, 5*time.Minute, cfg.TryOnTimeout)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 5<<20, cfg.PreShrinkBytes)
	assert.Equal(t, int64(16383*16383), cfg.MaxPixels)
	assert.Equal(t, 5, cfg.MaxGarments)
	assert.True(t, cfg.SingleSubject)
	assert.True(t, cfg.CORSAllowShopify)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:3002"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.CompressionServiceURL, "no key and no URL disables the cloud tier")
	assert.Equal(t,
		"https://us-central1-aiplatform.googleapis.com/v1/projects/tryandfit/locations/us-central1/publishers/google/models/virtual-try-on-preview-08-04:predict",
		cfg.TryOnURL())
}

func TestNewConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("CORS_ALLOW_SHOPIFY", "false")
	t.Setenv("GOOGLE_PROJECT_ID", "my-project")
	t.Setenv("GOOGLE_LOCATION", "europe-west4")
	t.Setenv("TINYPNG_API_KEY", "secret")
	t.Setenv("COMPRESSION_SERVICE_URL", "")
	t.Setenv("NORMALIZE_WORKERS", "8")
	t.Setenv("SESSION_TTL_SECONDS", "60")
	t.Setenv("SINGLE_SUBJECT", "0")
	t.Setenv("MAX_GARMENTS", "-3")
	t.Setenv("MAX_INPUT_PIXELS", "4000000")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.CORSAllowShopify)
	assert.Equal(t, "http://127.0.0.1:9000/api/compress-image", cfg.CompressionServiceURL)
	assert.Equal(t, 8, cfg.NormalizeWorkers)
	assert.Equal(t, time.Minute, cfg.SessionTTL)
	assert.False(t, cfg.SingleSubject)
	assert.Equal(t, 5, cfg.MaxGarments, "invalid values fall back to the default")
	assert.Equal(t, int64(4000000), cfg.MaxPixels)
	assert.Contains(t, cfg.TryOnURL(), "https://europe-west4-aiplatform.googleapis.com/v1/projects/my-project/locations/europe-west4/")
}

func TestNewConfig_Invalid(t *testing.T) {
	t.Setenv("PORT", "abc")
	_, err := NewConfig()
	assert.Error(t, err)

	t.Setenv("PORT", "3001")
	t.Setenv("COMPRESSION_SERVICE_URL", "ftp://nope")
	_, err = NewConfig()
	assert.Error(t, err)
}
