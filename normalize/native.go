package normalize

import (
	"context"
	"fmt"

	"github.com/creativespaces/mirrify/models"
	"github.com/disintegration/imaging"
)

// Encoder is one normalization backend.
type Encoder interface {
	Encode(ctx context.Context, src models.ImageAsset, meta models.ImageMetadata, target Dimensions, req models.NormalizationRequest) (models.ImageAsset, error)
}

// NativeEncoder resizes with a Lanczos filter and re-encodes to the requested
// format, optionally stamping the print density on the output.
type NativeEncoder struct{}

// NewNativeEncoder returns the high-fidelity in-process encoder.
func NewNativeEncoder() *NativeEncoder {
	return &NativeEncoder{}
}

// Encode resizes src to fit inside target without enlarging it.
func (n *NativeEncoder) Encode(ctx context.Context, src models.ImageAsset, meta models.ImageMetadata, target Dimensions, req models.NormalizationRequest) (models.ImageAsset, error) {
	if req.Quality < 1 || req.Quality > 100 {
		return models.ImageAsset{}, fmt.Errorf("%w: quality %d out of range 1..100", ErrEncode, req.Quality)
	}
	format, ok := models.ParseOutputFormat(string(req.OutputFormat))
	if !ok {
		return models.ImageAsset{}, fmt.Errorf("%w: unsupported output format %q", ErrEncode, req.OutputFormat)
	}
	if err := ctx.Err(); err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	img, _, err := decodeImage(src.Data)
	if err != nil {
		return models.ImageAsset{}, err
	}
	img = orient(img, meta.Orientation)

	b := img.Bounds()
	w, h := target.Width, target.Height
	if w <= 0 || h <= 0 || w > b.Dx() || h > b.Dy() {
		w, h = b.Dx(), b.Dy()
	}
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	if err := ctx.Err(); err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	data, err := encodeImage(img, format, req.Quality)
	if err != nil {
		return models.ImageAsset{}, err
	}

	if req.PreserveMetadata {
		dpi := req.DPI
		if dpi <= 0 {
			dpi = meta.Density
		}
		if data, err = withDensity(data, format, dpi); err != nil {
			return models.ImageAsset{}, fmt.Errorf("%w: density: %v", ErrEncode, err)
		}
	}

	return models.ImageAsset{
		Data:     data,
		MIMEType: format.MIMEType(),
		Filename: renamed(src.Filename, format),
	}, nil
}
