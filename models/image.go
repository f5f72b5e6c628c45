package models

import (
	"strings"
	"time"
)

const (
	// DefaultMaxDimension bounds the smaller image axis when no value is requested.
	DefaultMaxDimension = 1024
	// DefaultQuality is the encoder quality used when no value is requested.
	DefaultQuality = 90
	// DefaultDensity is reported for images that carry no resolution marker.
	DefaultDensity = 72
)

// Backend identifies the normalization tier that produced a result.
type Backend string

const (
	BackendNative      Backend = "native"
	BackendCloud       Backend = "cloud"
	BackendLocal       Backend = "local"
	BackendPassthrough Backend = "passthrough"
)

// OutputFormat is the encoding requested from the native tier.
type OutputFormat string

const (
	FormatJPEG OutputFormat = "jpeg"
	FormatPNG  OutputFormat = "png"
	FormatWebP OutputFormat = "webp"
)

// ParseOutputFormat accepts the format names and common aliases ("jpg", "image/png").
func ParseOutputFormat(s string) (OutputFormat, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "image/")
	switch v {
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	default:
		return "", false
	}
}

// MIMEType returns the content type for the format.
func (f OutputFormat) MIMEType() string {
	return "image/" + string(f)
}

// Extension returns the canonical file extension including the dot.
func (f OutputFormat) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// ImageAsset is an uploaded or produced image. Data must not be modified once
// the asset has been created; transformations always build a new asset.
type ImageAsset struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename"`
}

// Size returns the byte length of the asset.
func (a ImageAsset) Size() int {
	return len(a.Data)
}

// ImageMetadata describes intrinsic image properties. Width and Height are the
// display dimensions, i.e. after the EXIF orientation has been applied.
type ImageMetadata struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Density     int    `json:"density"`
	Format      string `json:"format"`
	ByteSize    int    `json:"size"`
	Orientation int    `json:"orientation,omitempty"`
}

// NormalizationRequest holds the output constraints for a normalization call.
type NormalizationRequest struct {
	MaxDimension     int          `json:"max_dimension"`
	Quality          int          `json:"quality"`
	OutputFormat     OutputFormat `json:"output_format"`
	PreserveMetadata bool         `json:"preserve_metadata"`
	// DPI overrides the density written back by the native tier. Zero keeps
	// the source density.
	DPI int `json:"dpi,omitempty"`
}

// DefaultNormalizationRequest returns the request used by the upload flow.
func DefaultNormalizationRequest() NormalizationRequest {
	return NormalizationRequest{
		MaxDimension:     DefaultMaxDimension,
		Quality:          DefaultQuality,
		OutputFormat:     FormatJPEG,
		PreserveMetadata: true,
	}
}

// WithDefaults fills zero-valued fields with their documented defaults.
func (r NormalizationRequest) WithDefaults() NormalizationRequest {
	if r.MaxDimension <= 0 {
		r.MaxDimension = DefaultMaxDimension
	}
	if r.Quality == 0 {
		r.Quality = DefaultQuality
	}
	if r.OutputFormat == "" {
		r.OutputFormat = FormatJPEG
	}
	return r
}

// TierAttempt records one backend attempt for diagnostics.
type TierAttempt struct {
	Backend  Backend       `json:"backend"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// NormalizationResult is the outcome of a normalization call. BackendUsed is
// the tier that actually produced Asset.
type NormalizationResult struct {
	Asset       ImageAsset    `json:"asset"`
	Metadata    ImageMetadata `json:"metadata"`
	BackendUsed Backend       `json:"backend_used"`
	Attempts    []TierAttempt `json:"attempts,omitempty"`
}
