package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
	"github.com/creativespaces/mirrify/normalize"
)

const (
	defaultTinifyShrinkURL = "https://api.tinify.com/shrink"
	maxTinifyResponse      = 64 << 20
)

// ErrCompressionNotConfigured is returned when no TinyPNG API key is set.
var ErrCompressionNotConfigured = errors.New("TinyPNG API key not configured")

// TinifyClient compresses images through the TinyPNG API.
type TinifyClient struct {
	apiKey    string
	shrinkURL string
	client    *http.Client
}

// NewTinifyClient constructs a TinifyClient. An empty shrinkURL uses the
// public API endpoint.
func NewTinifyClient(apiKey, shrinkURL string, timeout time.Duration) *TinifyClient {
	if shrinkURL == "" {
		shrinkURL = defaultTinifyShrinkURL
	}
	return &TinifyClient{
		apiKey:    apiKey,
		shrinkURL: shrinkURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an API key is available.
func (t *TinifyClient) Configured() bool {
	return t.apiKey != ""
}

type tinifyShrinkResponse struct {
	Output struct {
		Size   int    `json:"size"`
		Type   string `json:"type"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
		URL    string `json:"url"`
	} `json:"output"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Compress shrinks data and, when its larger side exceeds maxDimension, fits
// it inside a maxDimension box.
func (t *TinifyClient) Compress(ctx context.Context, data []byte, maxDimension int) (models.CompressResponse, error) {
	if !t.Configured() {
		return models.CompressResponse{}, ErrCompressionNotConfigured
	}
	if maxDimension <= 0 {
		maxDimension = models.DefaultMaxDimension
	}
	meta, err := normalize.ReadMetadata(data)
	if err != nil {
		return models.CompressResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.shrinkURL, bytes.NewReader(data))
	if err != nil {
		return models.CompressResponse{}, fmt.Errorf("failed to create shrink request: %w", err)
	}
	req.SetBasicAuth("api", t.apiKey)

	logger.Debug().Int("bytes", len(data)).Int("max_dimension", maxDimension).Msg("tinify: sending shrink request")
	resp, err := t.client.Do(req)
	if err != nil {
		return models.CompressResponse{}, fmt.Errorf("shrink request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var shrink tinifyShrinkResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&shrink); err != nil {
		return models.CompressResponse{}, fmt.Errorf("failed to decode shrink response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return models.CompressResponse{}, fmt.Errorf("shrink failed: status %d: %s %s", resp.StatusCode, shrink.Error, shrink.Message)
	}
	outputURL := resp.Header.Get("Location")
	if outputURL == "" {
		outputURL = shrink.Output.URL
	}
	if outputURL == "" {
		return models.CompressResponse{}, errors.New("shrink response carries no output location")
	}

	target := normalize.PlanLargest(meta.Width, meta.Height, maxDimension)
	wasResized := max(meta.Width, meta.Height) > maxDimension

	var outReq *http.Request
	if wasResized {
		var body []byte
		body, err = json.Marshal(map[string]any{
			"resize": map[string]any{"method": "fit", "width": target.Width, "height": target.Height},
		})
		if err != nil {
			return models.CompressResponse{}, fmt.Errorf("failed to build resize request: %w", err)
		}
		outReq, err = http.NewRequestWithContext(ctx, http.MethodPost, outputURL, bytes.NewReader(body))
		if err == nil {
			outReq.Header.Set("Content-Type", "application/json")
		}
	} else {
		outReq, err = http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	}
	if err != nil {
		return models.CompressResponse{}, fmt.Errorf("failed to create output request: %w", err)
	}
	outReq.SetBasicAuth("api", t.apiKey)

	outResp, err := t.client.Do(outReq)
	if err != nil {
		return models.CompressResponse{}, fmt.Errorf("output request failed: %w", err)
	}
	defer func() {
		_ = outResp.Body.Close()
	}()
	if outResp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(outResp.Body, 4096))
		logger.Debug().Int("status", outResp.StatusCode).Bytes("body", b).Msg("tinify: output request failed")
		return models.CompressResponse{}, fmt.Errorf("output request failed: status %d", outResp.StatusCode)
	}
	compressed, err := io.ReadAll(io.LimitReader(outResp.Body, maxTinifyResponse))
	if err != nil {
		return models.CompressResponse{}, fmt.Errorf("failed to read compressed image: %w", err)
	}
	if len(compressed) == 0 {
		return models.CompressResponse{}, errors.New("empty compressed image")
	}

	final := models.Dimensions{Width: meta.Width, Height: meta.Height}
	if wasResized {
		final = models.Dimensions{Width: target.Width, Height: target.Height}
	}

	logger.Info().
		Int("original_size", len(data)).
		Int("compressed_size", len(compressed)).
		Bool("was_resized", wasResized).
		Msg("tinify: image compressed")

	return models.CompressResponse{
		Success:             true,
		CompressedImage:     normalize.EncodeDataURL(normalize.DetectMIME(compressed), compressed),
		OriginalSize:        len(data),
		CompressedSize:      len(compressed),
		CompressionRatio:    CompressionRatio(len(data), len(compressed)),
		OriginalDimensions:  &models.Dimensions{Width: meta.Width, Height: meta.Height},
		ProcessedDimensions: &final,
		WasResized:          wasResized,
	}, nil
}

// CompressionRatio is the size reduction in percent with one decimal.
func CompressionRatio(original, compressed int) string {
	if original <= 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(original-compressed)/float64(original)*100)
}
