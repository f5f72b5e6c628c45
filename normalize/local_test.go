package normalize

import (
	"context"
	"testing"

	"github.com/creativespaces/mirrify/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeLocal(t *testing.T, data []byte, req models.NormalizationRequest) (models.ImageAsset, error) {
	t.Helper()
	meta, err := ReadMetadata(data)
	require.NoError(t, err)
	return NewLocalEncoder().Encode(context.Background(), models.ImageAsset{Data: data, Filename: "upload.bin"}, meta, Dimensions{}, req)
}

func TestLocalEncoder_BoundsLargerSide(t *testing.T) {
	out, err := encodeLocal(t, jpegBytes(t, 3000, 1500), models.DefaultNormalizationRequest())
	require.NoError(t, err)

	w, h := decodedSize(t, out.Data)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 512, h)
	assert.Equal(t, "image/jpeg", out.MIMEType)
	assert.Equal(t, "upload.jpg", out.Filename)
}

func TestLocalEncoder_KeepsSourceFormat(t *testing.T) {
	req := models.DefaultNormalizationRequest()
	req.OutputFormat = models.FormatWebP

	out, err := encodeLocal(t, pngBytes(t, 500, 400), req)
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MIMEType)
	w, h := decodedSize(t, out.Data)
	assert.Equal(t, 500, w)
	assert.Equal(t, 400, h)

	out, err = encodeLocal(t, gifBytes(t, 60, 30), req)
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MIMEType)
}

func TestLocalEncoder_ClampsQuality(t *testing.T) {
	req := models.DefaultNormalizationRequest()
	req.Quality = 250

	out, err := encodeLocal(t, jpegBytes(t, 64, 64), req)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Data)
}

func TestLocalEncoder_CorruptInput(t *testing.T) {
	data := jpegBytes(t, 64, 64)
	meta, err := ReadMetadata(data)
	require.NoError(t, err)

	_, err = NewLocalEncoder().Encode(context.Background(), models.ImageAsset{Data: data[:len(data)/4]}, meta, Dimensions{}, models.DefaultNormalizationRequest())
	assert.ErrorIs(t, err, ErrEncode)
}
