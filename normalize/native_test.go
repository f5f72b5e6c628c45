package normalize

import (
	"context"
	"testing"

	"github.com/creativespaces/mirrify/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeNative(t *testing.T, data []byte, req models.NormalizationRequest) (models.ImageAsset, models.ImageMetadata, error) {
	t.Helper()
	meta, err := ReadMetadata(data)
	require.NoError(t, err)
	req = req.WithDefaults()
	out, err := NewNativeEncoder().Encode(context.Background(),
		models.ImageAsset{Data: data, MIMEType: "image/" + meta.Format, Filename: "photo." + meta.Format},
		meta, Plan(meta.Width, meta.Height, req.MaxDimension), req)
	if err != nil {
		return out, models.ImageMetadata{}, err
	}
	outMeta, err := ReadMetadata(out.Data)
	require.NoError(t, err)
	return out, outMeta, nil
}

func TestNativeEncoder_BoundsSmallerSide(t *testing.T) {
	out, meta, err := encodeNative(t, jpegBytes(t, 3000, 1500), models.DefaultNormalizationRequest())
	require.NoError(t, err)

	assert.Equal(t, 2048, meta.Width)
	assert.Equal(t, 1024, meta.Height)
	assert.Equal(t, "image/jpeg", out.MIMEType)
	assert.Equal(t, "photo.jpg", out.Filename)
}

func TestNativeEncoder_NeverUpscales(t *testing.T) {
	req := models.DefaultNormalizationRequest()
	req.OutputFormat = models.FormatPNG

	out, meta, err := encodeNative(t, pngBytes(t, 500, 400), req)
	require.NoError(t, err)
	assert.Equal(t, 500, meta.Width)
	assert.Equal(t, 400, meta.Height)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, "photo.png", out.Filename)
}

func TestNativeEncoder_ClampsTargetToSource(t *testing.T) {
	data := jpegBytes(t, 300, 200)
	meta, err := ReadMetadata(data)
	require.NoError(t, err)

	out, err := NewNativeEncoder().Encode(context.Background(), models.ImageAsset{Data: data}, meta,
		Dimensions{Width: 900, Height: 600}, models.DefaultNormalizationRequest())
	require.NoError(t, err)

	w, h := decodedSize(t, out.Data)
	assert.Equal(t, 300, w)
	assert.Equal(t, 200, h)
}

func TestNativeEncoder_PreservesDensity(t *testing.T) {
	src, err := setJPEGDensity(jpegBytes(t, 200, 100), 144)
	require.NoError(t, err)

	_, meta, err := encodeNative(t, src, models.DefaultNormalizationRequest())
	require.NoError(t, err)
	assert.Equal(t, 144, meta.Density)

	_, meta, err = encodeNative(t, jpegBytes(t, 200, 100), models.DefaultNormalizationRequest())
	require.NoError(t, err)
	assert.Equal(t, 72, meta.Density)
}

func TestNativeEncoder_DPIOverride(t *testing.T) {
	src, err := setJPEGDensity(jpegBytes(t, 200, 100), 144)
	require.NoError(t, err)

	req := models.DefaultNormalizationRequest()
	req.DPI = 300
	_, meta, err := encodeNative(t, src, req)
	require.NoError(t, err)
	assert.Equal(t, 300, meta.Density)

	req.OutputFormat = models.FormatPNG
	_, meta, err = encodeNative(t, src, req)
	require.NoError(t, err)
	assert.Equal(t, 300, meta.Density)
}

func TestNativeEncoder_WithoutPreserveMetadata(t *testing.T) {
	src, err := setJPEGDensity(jpegBytes(t, 200, 100), 144)
	require.NoError(t, err)

	req := models.DefaultNormalizationRequest()
	req.PreserveMetadata = false
	_, meta, err := encodeNative(t, src, req)
	require.NoError(t, err)
	assert.Equal(t, 72, meta.Density)
}

func TestNativeEncoder_WebP(t *testing.T) {
	req := models.DefaultNormalizationRequest()
	req.OutputFormat = models.FormatWebP

	out, meta, err := encodeNative(t, jpegBytes(t, 1600, 1200), req)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", out.MIMEType)
	assert.Equal(t, "webp", meta.Format)
	assert.Equal(t, 1365, meta.Width)
	assert.Equal(t, 1024, meta.Height)
}

func TestNativeEncoder_AppliesOrientation(t *testing.T) {
	// raster is 200x100 but EXIF orientation 6 means it displays as 100x200
	data := jpegBytes(t, 200, 100)
	meta, err := ReadMetadata(data)
	require.NoError(t, err)
	meta.Orientation = 6
	meta.Width, meta.Height = meta.Height, meta.Width

	out, err := NewNativeEncoder().Encode(context.Background(), models.ImageAsset{Data: data}, meta,
		Plan(meta.Width, meta.Height, 1024), models.DefaultNormalizationRequest())
	require.NoError(t, err)

	w, h := decodedSize(t, out.Data)
	assert.Equal(t, 100, w)
	assert.Equal(t, 200, h)
}

func TestNativeEncoder_RejectsBadParameters(t *testing.T) {
	data := jpegBytes(t, 20, 20)

	req := models.DefaultNormalizationRequest()
	req.Quality = 101
	_, _, err := encodeNative(t, data, req)
	assert.ErrorIs(t, err, ErrEncode)

	req = models.DefaultNormalizationRequest()
	req.Quality = -5
	_, _, err = encodeNative(t, data, req)
	assert.ErrorIs(t, err, ErrEncode)

	req = models.DefaultNormalizationRequest()
	req.OutputFormat = "tiff"
	_, _, err = encodeNative(t, data, req)
	assert.ErrorIs(t, err, ErrEncode)
}

func TestNativeEncoder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := jpegBytes(t, 20, 20)
	meta, err := ReadMetadata(data)
	require.NoError(t, err)
	_, err = NewNativeEncoder().Encode(ctx, models.ImageAsset{Data: data}, meta, Dimensions{20, 20}, models.DefaultNormalizationRequest())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
