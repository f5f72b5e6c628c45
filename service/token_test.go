package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServiceAccount(t *testing.T, tokenURI string) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	raw, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "tryandfit",
		"private_key_id": "key-1",
		"private_key":    string(pemKey),
		"client_email":   "relay@tryandfit.iam.gserviceaccount.com",
		"token_uri":      tokenURI,
	})
	require.NoError(t, err)
	return raw, key
}

func TestServiceAccountTokenSource(t *testing.T) {
	var calls atomic.Int32
	var key *rsa.PrivateKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))

		tok, err := jwt.Parse(r.PostForm.Get("assertion"), func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		if assert.NoError(t, err) {
			claims := tok.Claims.(jwt.MapClaims)
			assert.Equal(t, "relay@tryandfit.iam.gserviceaccount.com", claims["iss"])
			assert.Equal(t, "https://www.googleapis.com/auth/cloud-platform", claims["scope"])
			assert.Equal(t, "key-1", tok.Header["kid"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.test","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	raw, k := testServiceAccount(t, srv.URL)
	key = k

	src, err := NewServiceAccountTokenSource(raw, time.Second)
	require.NoError(t, err)

	tok, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.test", tok)

	tok, err = src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.test", tok)
	assert.Equal(t, int32(1), calls.Load(), "second call should be served from cache")

	// refresh once the cached token is within the lead time of expiry
	now := time.Now().Add(59*time.Minute + time.Second)
	src.cache.now = func() time.Time { return now }
	_, err = src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestServiceAccountTokenSource_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	raw, _ := testServiceAccount(t, srv.URL)
	src, err := NewServiceAccountTokenSource(raw, time.Second)
	require.NoError(t, err)
	_, err = src.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrAuth)

	_, err = NewServiceAccountTokenSource([]byte(`{"client_email":"x"}`), time.Second)
	assert.ErrorIs(t, err, ErrAuth)

	_, err = NewServiceAccountTokenSource([]byte(`{"client_email":"x","private_key":"not pem"}`), time.Second)
	assert.ErrorIs(t, err, ErrAuth)

	_, err = NewServiceAccountTokenSource([]byte(`not json`), time.Second)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestMetadataTokenSource(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Metadata-Flavor") != "Google" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"meta-token","expires_in":1800,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	src := NewMetadataTokenSource(srv.URL, time.Second)
	for i := 0; i < 3; i++ {
		tok, err := src.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "meta-token", tok)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestMetadataTokenSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewMetadataTokenSource(url, 100*time.Millisecond).AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestNewTokenSource(t *testing.T) {
	src, err := NewTokenSource("", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &MetadataTokenSource{}, src)

	raw, _ := testServiceAccount(t, "https://oauth2.example/token")
	src, err = NewTokenSource(string(raw), time.Second)
	require.NoError(t, err)
	assert.IsType(t, &ServiceAccountTokenSource{}, src)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	src, err = NewTokenSource(path, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &ServiceAccountTokenSource{}, src)

	_, err = NewTokenSource(filepath.Join(t.TempDir(), "missing.json"), time.Second)
	assert.ErrorIs(t, err, ErrAuth)
}
