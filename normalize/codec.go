package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/creativespaces/mirrify/models"
	"github.com/disintegration/imaging"
)

// decodeImage refuses rasters above MaxPixels before allocating them.
func decodeImage(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode: %v", ErrEncode, err)
	}
	if err := CheckPixels(cfg.Width, cfg.Height); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode: %v", ErrEncode, err)
	}
	return img, format, nil
}

func encodeImage(img image.Image, format models.OutputFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case models.FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case models.FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	case models.FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrEncode, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, format, err)
	}
	return buf.Bytes(), nil
}

// orient applies the EXIF orientation transform (values 1-8) so that the
// encoded output displays upright without EXIF.
func orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// formatFor maps a decoder format name or MIME type to an output format. GIF
// and unknown inputs re-encode as PNG.
func formatFor(name string) models.OutputFormat {
	if f, ok := models.ParseOutputFormat(name); ok {
		return f
	}
	return models.FormatPNG
}

// renamed swaps the extension of filename to match format.
func renamed(filename string, format models.OutputFormat) string {
	if filename == "" {
		return "image" + format.Extension()
	}
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext) + format.Extension()
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
