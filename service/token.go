package service

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/creativespaces/mirrify/logger"
	"github.com/golang-jwt/jwt/v5"
)

const (
	cloudPlatformScope   = "https://www.googleapis.com/auth/cloud-platform"
	defaultTokenURI      = "https://oauth2.googleapis.com/token"
	defaultMetadataURL   = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/token"
	jwtBearerGrantType   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime    = time.Hour
	tokenRefreshLeadTime = 60 * time.Second
)

// ErrAuth is returned when no access token can be obtained.
var ErrAuth = errors.New("failed to get access token")

// TokenSource yields OAuth2 access tokens for the cloud-platform scope.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// NewTokenSource picks an implementation from the credentials setting: empty
// means the metadata server, a JSON object is an inline service account key,
// anything else is a path to a key file.
func NewTokenSource(credentials string, timeout time.Duration) (TokenSource, error) {
	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		logger.Info().Msg("token: using metadata server credentials")
		return NewMetadataTokenSource(defaultMetadataURL, timeout), nil
	}

	raw := []byte(credentials)
	if !strings.HasPrefix(credentials, "{") {
		b, err := os.ReadFile(credentials)
		if err != nil {
			return nil, fmt.Errorf("%w: read credentials file: %v", ErrAuth, err)
		}
		raw = b
	}
	src, err := NewServiceAccountTokenSource(raw, timeout)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("client_email", src.key.ClientEmail).Str("project_id", src.key.ProjectID).Msg("token: using service account credentials")
	return src, nil
}

type serviceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// tokenCache holds the current token until shortly before it expires.
type tokenCache struct {
	mu    sync.Mutex
	entry cacheEntry[string]
	now   func() time.Time
}

func (c *tokenCache) get() (string, bool) {
	if c.entry.Value == "" || c.entry.isExpired(c.now()) {
		return "", false
	}
	return c.entry.Value, true
}

func (c *tokenCache) set(tok tokenResponse) {
	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenRefreshLeadTime
	if ttl < 0 {
		ttl = 0
	}
	c.entry = cacheEntry[string]{Value: tok.AccessToken, ExpiresAt: c.now().Add(ttl)}
}

// ServiceAccountTokenSource exchanges a self-signed RS256 assertion for an
// access token (OAuth2 JWT bearer grant).
type ServiceAccountTokenSource struct {
	key    serviceAccountKey
	signer *rsa.PrivateKey
	client *http.Client
	cache  tokenCache
}

// NewServiceAccountTokenSource parses a service account JSON key.
func NewServiceAccountTokenSource(keyJSON []byte, timeout time.Duration) (*ServiceAccountTokenSource, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(keyJSON, &key); err != nil {
		return nil, fmt.Errorf("%w: parse service account key: %v", ErrAuth, err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("%w: service account key needs client_email and private_key", ErrAuth)
	}
	if key.TokenURI == "" {
		key.TokenURI = defaultTokenURI
	}
	signer, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrAuth, err)
	}
	return &ServiceAccountTokenSource{
		key:    key,
		signer: signer,
		client: &http.Client{Timeout: timeout},
		cache:  tokenCache{now: time.Now},
	}, nil
}

// AccessToken returns a cached token or performs a new exchange.
func (s *ServiceAccountTokenSource) AccessToken(ctx context.Context) (string, error) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()

	if tok, ok := s.cache.get(); ok {
		logger.Debug().Msg("token: cache hit")
		return tok, nil
	}

	assertion, err := s.assertion()
	if err != nil {
		return "", err
	}
	form := url.Values{
		"grant_type": {jwtBearerGrantType},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.key.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	logger.Debug().Str("url", s.key.TokenURI).Str("client_email", s.key.ClientEmail).Msg("token: exchanging service account assertion")
	tok, err := doTokenRequest(s.client, req)
	if err != nil {
		return "", err
	}
	s.cache.set(tok)
	return tok.AccessToken, nil
}

func (s *ServiceAccountTokenSource) assertion() (string, error) {
	now := s.cache.now()
	claims := jwt.MapClaims{
		"iss":   s.key.ClientEmail,
		"scope": cloudPlatformScope,
		"aud":   s.key.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.key.PrivateKeyID != "" {
		token.Header["kid"] = s.key.PrivateKeyID
	}
	signed, err := token.SignedString(s.signer)
	if err != nil {
		return "", fmt.Errorf("%w: sign assertion: %v", ErrAuth, err)
	}
	return signed, nil
}

// MetadataTokenSource reads the default service account token from the
// GCE / Cloud Run metadata server.
type MetadataTokenSource struct {
	url    string
	client *http.Client
	cache  tokenCache
}

// NewMetadataTokenSource constructs a MetadataTokenSource for endpoint.
func NewMetadataTokenSource(endpoint string, timeout time.Duration) *MetadataTokenSource {
	return &MetadataTokenSource{
		url:    endpoint,
		client: &http.Client{Timeout: timeout},
		cache:  tokenCache{now: time.Now},
	}
}

// AccessToken returns a cached token or asks the metadata server.
func (m *MetadataTokenSource) AccessToken(ctx context.Context) (string, error) {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()

	if tok, ok := m.cache.get(); ok {
		return tok, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	tok, err := doTokenRequest(m.client, req)
	if err != nil {
		return "", err
	}
	m.cache.set(tok)
	return tok.AccessToken, nil
}

func doTokenRequest(client *http.Client, req *http.Request) (tokenResponse, error) {
	resp, err := client.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Debug().Int("status", resp.StatusCode).Bytes("body", b).Msg("token: request failed")
		return tokenResponse{}, fmt.Errorf("%w: token endpoint returned status %d", ErrAuth, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return tokenResponse{}, fmt.Errorf("%w: decode token response: %v", ErrAuth, err)
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("%w: empty access token", ErrAuth)
	}
	return tok, nil
}
