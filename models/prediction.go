package models

// PredictionRequest mirrors the Vertex AI virtual try-on :predict body.
type PredictionRequest struct {
	Instances  []PredictionInstance `json:"instances"`
	Parameters map[string]any       `json:"parameters,omitempty"`
}

// PredictionInstance pairs one person image with the garments to try on.
type PredictionInstance struct {
	PersonImage   ImageInput   `json:"personImage"`
	ProductImages []ImageInput `json:"productImages"`
}

// ImageInput wraps an inline image.
type ImageInput struct {
	Image EncodedImage `json:"image"`
}

// EncodedImage carries base64 image bytes.
type EncodedImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

// PredictionResponse is the :predict response.
type PredictionResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// Prediction is one generated composite.
type Prediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}
