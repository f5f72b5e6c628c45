package normalize

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"

	"github.com/creativespaces/mirrify/models"
)

const maxDensity = math.MaxUint16

// withDensity stamps a print resolution on encoded bytes. WebP carries no
// standard density field and is returned untouched.
func withDensity(data []byte, format models.OutputFormat, dpi int) ([]byte, error) {
	if dpi <= 0 {
		dpi = models.DefaultDensity
	}
	if dpi > maxDensity {
		dpi = maxDensity
	}
	switch format {
	case models.FormatJPEG:
		return setJPEGDensity(data, dpi)
	case models.FormatPNG:
		return setPNGDensity(data, dpi)
	default:
		return data, nil
	}
}

// setJPEGDensity writes a JFIF APP0 segment (units = dots per inch) right after
// SOI, replacing an existing JFIF segment if one is there.
func setJPEGDensity(data []byte, dpi int) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, errors.New("not a jpeg stream")
	}

	app0 := []byte{
		0xFF, 0xE0, 0x00, 0x10,
		'J', 'F', 'I', 'F', 0x00,
		0x01, 0x01, // version 1.01
		0x01, // dots per inch
		0, 0, 0, 0,
		0x00, 0x00, // no thumbnail
	}
	binary.BigEndian.PutUint16(app0[12:], uint16(dpi))
	binary.BigEndian.PutUint16(app0[14:], uint16(dpi))

	rest := data[2:]
	if len(rest) >= 9 && rest[0] == 0xFF && rest[1] == 0xE0 && bytes.Equal(rest[4:9], []byte("JFIF\x00")) {
		length := int(binary.BigEndian.Uint16(rest[2:]))
		if 2+length > len(rest) {
			return nil, errors.New("truncated jfif segment")
		}
		rest = rest[2+length:]
	}

	out := make([]byte, 0, len(data)+len(app0))
	out = append(out, 0xFF, 0xD8)
	out = append(out, app0...)
	out = append(out, rest...)
	return out, nil
}

// setPNGDensity inserts a pHYs chunk after IHDR, dropping any existing one.
func setPNGDensity(data []byte, dpi int) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errors.New("not a png stream")
	}
	ihdrEnd := len(pngSignature) + 8 + 13 + 4
	if len(data) < ihdrEnd || string(data[len(pngSignature)+4:len(pngSignature)+8]) != "IHDR" {
		return nil, errors.New("png stream does not start with IHDR")
	}

	ppm := uint32(math.Round(float64(dpi) / 0.0254))
	body := make([]byte, 9)
	binary.BigEndian.PutUint32(body[0:], ppm)
	binary.BigEndian.PutUint32(body[4:], ppm)
	body[8] = 1 // metre

	out := make([]byte, 0, len(data)+21)
	out = append(out, data[:ihdrEnd]...)
	out = appendPNGChunk(out, "pHYs", body)

	pos := ihdrEnd
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		end := pos + 8 + length + 4
		if end > len(data) {
			return nil, errors.New("truncated png chunk")
		}
		if string(data[pos+4:pos+8]) != "pHYs" {
			out = append(out, data[pos:end]...)
		}
		pos = end
	}
	return out, nil
}

func appendPNGChunk(out []byte, typ string, body []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(len(body)))
	copy(hdr[4:], typ)
	out = append(out, hdr[:]...)
	out = append(out, body...)

	crc := crc32.NewIEEE()
	_, _ = crc.Write([]byte(typ))
	_, _ = crc.Write(body)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	return append(out, sum[:]...)
}
