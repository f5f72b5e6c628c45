package models

// CompressRequest is the body accepted by the cloud compression endpoint.
// ImageData is a data URL ("data:image/jpeg;base64,...").
type CompressRequest struct {
	ImageData    string `json:"imageData"`
	MaxDimension int    `json:"maxDimension,omitempty"`
}

// Dimensions is a width/height pair.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CompressResponse is returned by the cloud compression endpoint. Fallback is
// set when the service cannot compress (missing credential or upstream failure)
// and the caller should use another tier.
type CompressResponse struct {
	Success             bool        `json:"success"`
	CompressedImage     string      `json:"compressedImage,omitempty"`
	OriginalSize        int         `json:"originalSize,omitempty"`
	CompressedSize      int         `json:"compressedSize,omitempty"`
	CompressionRatio    string      `json:"compressionRatio,omitempty"`
	OriginalDimensions  *Dimensions `json:"originalDimensions,omitempty"`
	ProcessedDimensions *Dimensions `json:"processedDimensions,omitempty"`
	WasResized          bool        `json:"wasResized"`
	Error               string      `json:"error,omitempty"`
	Fallback            bool        `json:"fallback,omitempty"`
	Details             string      `json:"details,omitempty"`
}
