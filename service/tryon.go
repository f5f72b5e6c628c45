package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
)

// maxPredictResponse caps the upstream body; generated images are inline base64.
const maxPredictResponse = 128 << 20

// UpstreamError is a non-2xx answer from the prediction endpoint.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("prediction request failed: status %d: %s", e.StatusCode, e.Message)
}

// PredictURL builds the Vertex AI publisher model :predict URL.
func PredictURL(location, project, model string) string {
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		location, project, location, model)
}

// TryOnClient relays prediction requests to the try-on model.
type TryOnClient struct {
	url    string
	tokens TokenSource
	client *http.Client
}

// NewTryOnClient constructs a TryOnClient posting to url.
func NewTryOnClient(url string, tokens TokenSource, timeout time.Duration) *TryOnClient {
	return &TryOnClient{
		url:    url,
		tokens: tokens,
		client: &http.Client{Timeout: timeout},
	}
}

// PredictRaw forwards body unchanged and returns the upstream JSON.
func (c *TryOnClient) PredictRaw(ctx context.Context, body []byte) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	logger.Debug().Str("url", c.url).Int("bytes", len(body)).Msg("tryon: sending prediction request")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPredictResponse))
	if err != nil {
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Message: err.Error()}
	}

	logger.Info().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("tryon: prediction response received")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: upstreamMessage(raw, resp.StatusCode)}
	}
	return raw, nil
}

// Predict sends a typed prediction request.
func (c *TryOnClient) Predict(ctx context.Context, pr models.PredictionRequest) (*models.PredictionResponse, error) {
	body, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}
	raw, err := c.PredictRaw(ctx, body)
	if err != nil {
		return nil, err
	}
	var out models.PredictionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Message: "undecodable prediction response"}
	}
	return &out, nil
}

// upstreamMessage extracts error.message from a Google API error body.
func upstreamMessage(raw []byte, status int) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Internal server error"
}
