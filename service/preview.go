package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"github.com/creativespaces/mirrify/normalize"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// PreviewMaxWidth is the maximum width for slot previews
	PreviewMaxWidth = 120
	// PreviewMaxHeight is the maximum height for slot previews
	PreviewMaxHeight = 120
	// PreviewQuality is the JPEG quality for previews (lower = smaller file size)
	PreviewQuality = 30
)

// GeneratePreview creates a low-quality thumbnail of an image and returns it
// as a JPEG data URL.
func GeneratePreview(imageData []byte) (string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	if err := normalize.CheckPixels(cfg.Width, cfg.Height); err != nil {
		return "", err
	}
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	// previews never upscale; a zero side is derived from the aspect ratio
	bounds := img.Bounds()
	var thumbWidth, thumbHeight uint
	if bounds.Dx() > bounds.Dy() {
		thumbWidth = min(PreviewMaxWidth, uint(bounds.Dx()))
	} else {
		thumbHeight = min(PreviewMaxHeight, uint(bounds.Dy()))
	}
	thumbnail := resize.Resize(thumbWidth, thumbHeight, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumbnail, &jpeg.Options{Quality: PreviewQuality}); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail as JPEG (original format: %s): %w", format, err)
	}
	return normalize.EncodeDataURL("image/jpeg", buf.Bytes()), nil
}
