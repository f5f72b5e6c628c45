package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/creativespaces/mirrify/models"
	"github.com/stretchr/testify/require"
)

func testImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(width, height), &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(width, height)))
	return buf.Bytes()
}

// stubNormalizer returns a fixed backend and echoes or replaces the asset.
type stubNormalizer struct {
	backend models.Backend
	output  []byte
	// gate, when set, blocks every call until it is closed
	gate    chan struct{}
	started chan struct{}
}

func (s *stubNormalizer) Normalize(ctx context.Context, asset models.ImageAsset, req models.NormalizationRequest) models.NormalizationResult {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	out := asset
	if s.output != nil {
		out = models.ImageAsset{Data: s.output, MIMEType: "image/jpeg", Filename: asset.Filename}
	}
	backend := s.backend
	if backend == "" {
		backend = models.BackendNative
	}
	return models.NormalizationResult{Asset: out, BackendUsed: backend, Metadata: models.ImageMetadata{Width: 1, Height: 1}}
}
