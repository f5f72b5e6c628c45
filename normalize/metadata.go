package normalize

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"math"
	"strings"
	"sync/atomic"

	"github.com/creativespaces/mirrify/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// DefaultMaxPixels is the largest raster accepted for decoding, 16383x16383.
const DefaultMaxPixels int64 = 0x3FFF * 0x3FFF

var (
	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

	maxPixels atomic.Int64
)

// SetMaxPixels sets the pixel ceiling enforced by ReadMetadata and every
// decoder. n <= 0 restores DefaultMaxPixels.
func SetMaxPixels(n int64) {
	if n <= 0 {
		n = DefaultMaxPixels
	}
	maxPixels.Store(n)
}

// MaxPixels returns the pixel ceiling currently in force.
func MaxPixels() int64 {
	if n := maxPixels.Load(); n > 0 {
		return n
	}
	return DefaultMaxPixels
}

// CheckPixels fails with ErrUnsupportedFormat when a width x height raster
// exceeds MaxPixels.
func CheckPixels(width, height int) error {
	if limit := MaxPixels(); int64(width)*int64(height) > limit {
		return fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrUnsupportedFormat, width, height, limit)
	}
	return nil
}

// Inspect is the intake check run before an image enters the pipeline. It
// rejects anything that does not sniff as an image or whose header cannot be
// parsed.
func Inspect(asset models.ImageAsset) (models.ImageMetadata, error) {
	if len(asset.Data) == 0 {
		return models.ImageMetadata{}, fmt.Errorf("%w: empty buffer", ErrUnsupportedFormat)
	}
	detected := mimetype.Detect(asset.Data).String()
	if !strings.HasPrefix(detected, "image/") {
		return models.ImageMetadata{}, fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, detected)
	}
	return ReadMetadata(asset.Data)
}

// DetectMIME sniffs the content type of data.
func DetectMIME(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i > 0 {
		mt = mt[:i]
	}
	return mt
}

// ReadMetadata returns intrinsic image properties without decoding pixels.
func ReadMetadata(data []byte) (models.ImageMetadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.ImageMetadata{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return models.ImageMetadata{}, fmt.Errorf("%w: invalid dimensions %dx%d", ErrUnsupportedFormat, cfg.Width, cfg.Height)
	}
	if err := CheckPixels(cfg.Width, cfg.Height); err != nil {
		return models.ImageMetadata{}, err
	}

	meta := models.ImageMetadata{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Density:     models.DefaultDensity,
		Format:      format,
		ByteSize:    len(data),
		Orientation: 1,
	}

	switch format {
	case "jpeg":
		density, found := jfifDensity(data)
		if x := decodeExif(data); x != nil {
			if !found {
				density, found = exifDensity(x)
			}
			meta.Orientation = exifOrientation(x)
		}
		if found {
			meta.Density = density
		}
	case "png":
		if density, found := pngDensity(data); found {
			meta.Density = density
		}
	}

	// orientations 5-8 transpose the stored raster
	if meta.Orientation >= 5 && meta.Orientation <= 8 {
		meta.Width, meta.Height = meta.Height, meta.Width
	}
	return meta, nil
}

// jfifDensity scans JPEG segments up to the first scan for a JFIF APP0 with a
// physical density unit.
func jfifDensity(data []byte) (int, bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, false
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return 0, false
		}
		marker := data[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		if marker == 0xD8 || marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			pos += 2
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			return 0, false
		}
		length := int(binary.BigEndian.Uint16(data[pos+2:]))
		if length < 2 || pos+2+length > len(data) {
			return 0, false
		}
		seg := data[pos+4 : pos+2+length]
		if marker == 0xE0 && len(seg) >= 12 && bytes.HasPrefix(seg, []byte("JFIF\x00")) {
			units := seg[7]
			x := int(binary.BigEndian.Uint16(seg[8:]))
			switch units {
			case 1:
				return x, x > 0
			case 2:
				d := int(math.Round(float64(x) * 2.54))
				return d, d > 0
			default:
				return 0, false
			}
		}
		pos += 2 + length
	}
	return 0, false
}

// decodeExif returns nil when the buffer has no usable EXIF block. goexif can
// panic on truncated IFDs, so the decode is guarded.
func decodeExif(data []byte) (x *exif.Exif) {
	defer func() {
		if r := recover(); r != nil {
			x = nil
		}
	}()
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return x
}

func exifDensity(x *exif.Exif) (int, bool) {
	tag, err := x.Get(exif.XResolution)
	if err != nil || tag == nil {
		return 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 || num <= 0 {
		return 0, false
	}
	res := float64(num) / float64(den)

	unit := 2
	if u, err := x.Get(exif.ResolutionUnit); err == nil && u != nil {
		if v, err := u.Int(0); err == nil {
			unit = v
		}
	}
	switch unit {
	case 2:
		// inches
	case 3:
		res *= 2.54
	default:
		return 0, false
	}
	d := int(math.Round(res))
	return d, d > 0
}

func exifOrientation(x *exif.Exif) int {
	tag, err := x.Get(exif.Orientation)
	if err != nil || tag == nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// pngDensity reads the pHYs chunk. Only the metre unit carries a density.
func pngDensity(data []byte) (int, bool) {
	if !bytes.HasPrefix(data, pngSignature) {
		return 0, false
	}
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		typ := string(data[pos+4 : pos+8])
		if typ == "IDAT" || typ == "IEND" {
			return 0, false
		}
		end := pos + 8 + length + 4
		if length < 0 || end > len(data) {
			return 0, false
		}
		if typ == "pHYs" && length == 9 {
			body := data[pos+8 : pos+8+length]
			ppm := binary.BigEndian.Uint32(body[0:4])
			if body[8] != 1 || ppm == 0 {
				return 0, false
			}
			d := int(math.Round(float64(ppm) * 0.0254))
			return d, d > 0
		}
		pos = end
	}
	return 0, false
}
