package normalize

import (
	"context"
	"fmt"

	"github.com/creativespaces/mirrify/models"
	"github.com/nfnt/resize"
)

// LocalEncoder is the last-resort in-process tier. It bounds the larger side
// and keeps the source encoding, so it only fails on input it cannot decode.
type LocalEncoder struct{}

// NewLocalEncoder returns the fallback encoder.
func NewLocalEncoder() *LocalEncoder {
	return &LocalEncoder{}
}

// Encode ignores target and the requested output format. Quality is clamped
// into range instead of rejected.
func (l *LocalEncoder) Encode(ctx context.Context, src models.ImageAsset, meta models.ImageMetadata, target Dimensions, req models.NormalizationRequest) (models.ImageAsset, error) {
	if err := ctx.Err(); err != nil {
		return models.ImageAsset{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	img, decoded, err := decodeImage(src.Data)
	if err != nil {
		return models.ImageAsset{}, err
	}
	img = orient(img, meta.Orientation)

	b := img.Bounds()
	bound := req.MaxDimension
	if bound <= 0 {
		bound = models.DefaultMaxDimension
	}
	d := PlanLargest(b.Dx(), b.Dy(), bound)
	if d.Width != b.Dx() || d.Height != b.Dy() {
		img = resize.Resize(uint(d.Width), uint(d.Height), img, resize.Lanczos3)
	}

	format := formatFor(decoded)
	data, err := encodeImage(img, format, clampQuality(req.Quality))
	if err != nil {
		return models.ImageAsset{}, err
	}

	return models.ImageAsset{
		Data:     data,
		MIMEType: format.MIMEType(),
		Filename: renamed(src.Filename, format),
	}, nil
}

// shrinkTo bounds the larger side of src to maxSide with the local encoder,
// keeping quality high since a later tier re-encodes the result.
func shrinkTo(ctx context.Context, enc Encoder, src models.ImageAsset, meta models.ImageMetadata, maxSide int) (models.ImageAsset, error) {
	return enc.Encode(ctx, src, meta, Dimensions{}, models.NormalizationRequest{
		MaxDimension: maxSide,
		Quality:      95,
		OutputFormat: formatFor(meta.Format),
	})
}
