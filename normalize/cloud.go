package normalize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
)

// maxCloudResponse caps the JSON body read from the compression service.
const maxCloudResponse = 64 << 20

// CloudEncoder posts images to a remote compression endpoint that speaks the
// CompressRequest/CompressResponse contract. The service decides the output
// format and applies its own larger-dimension bound.
type CloudEncoder struct {
	endpoint string
	client   *http.Client
}

// NewCloudEncoder constructs a CloudEncoder. An empty endpoint yields an
// encoder that always reports ErrBackendUnavailable.
func NewCloudEncoder(endpoint string, timeout time.Duration) *CloudEncoder {
	return &CloudEncoder{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Encode sends src with the request's max dimension. target is ignored; the
// service plans its own dimensions.
func (c *CloudEncoder) Encode(ctx context.Context, src models.ImageAsset, meta models.ImageMetadata, target Dimensions, req models.NormalizationRequest) (models.ImageAsset, error) {
	if c.endpoint == "" {
		return models.ImageAsset{}, fmt.Errorf("%w: no compression endpoint configured", ErrBackendUnavailable)
	}

	mime := src.MIMEType
	if !strings.HasPrefix(mime, "image/") {
		mime = DetectMIME(src.Data)
	}
	body, err := json.Marshal(models.CompressRequest{
		ImageData:    EncodeDataURL(mime, src.Data),
		MaxDimension: req.MaxDimension,
	})
	if err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug().Str("url", c.endpoint).Int("bytes", len(src.Data)).Msg("cloud: sending compression request")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCloudResponse))
	if err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}

	var out models.CompressResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: status %d, undecodable response", ErrBackendUnavailable, resp.StatusCode)
	}
	if out.Fallback || !out.Success || resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return models.ImageAsset{}, fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable, resp.StatusCode, msg)
	}

	outMIME, data, err := DecodeDataURL(out.CompressedImage)
	if err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if outMIME == "" {
		outMIME = DetectMIME(data)
	}

	logger.Debug().
		Int("original_size", out.OriginalSize).
		Int("compressed_size", out.CompressedSize).
		Bool("was_resized", out.WasResized).
		Msg("cloud: compression response received")

	return models.ImageAsset{
		Data:     data,
		MIMEType: outMIME,
		Filename: renamed(src.Filename, formatFor(outMIME)),
	}, nil
}

// EncodeDataURL renders data as a base64 data URL.
func EncodeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL accepts a base64 data URL or a bare base64 payload and returns
// the declared MIME type (empty for bare payloads) and the decoded bytes.
func DecodeDataURL(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, errors.New("empty image payload")
	}
	mime := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return "", nil, errors.New("malformed data url")
		}
		header := s[len("data:"):comma]
		if !strings.HasSuffix(header, ";base64") {
			return "", nil, errors.New("data url is not base64 encoded")
		}
		mime = strings.TrimSuffix(header, ";base64")
		payload = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return "", nil, errors.New("empty image payload")
	}
	return mime, data, nil
}
