// Package normalize resizes and re-encodes uploaded images through an ordered
// list of backends, falling back to the original bytes when every backend fails.
package normalize

import "errors"

var (
	// ErrUnsupportedFormat is returned at intake for buffers that are not images.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrBackendUnavailable covers network, service, credential and timeout failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEncode covers malformed parameters and corrupt intermediate output.
	ErrEncode = errors.New("image encode failed")
)
