package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/creativespaces/mirrify/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTinify mimics the shrink + output endpoints of the TinyPNG API.
func fakeTinify(t *testing.T, output []byte, resizeSeen *map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/shrink", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized","message":"Credentials are invalid"}`))
			return
		}
		w.Header().Set("Location", srv.URL+"/output/abc")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"input":{"size":100,"type":"image/png"},"output":{"size":50,"type":"image/png"}}`))
	})
	mux.HandleFunc("/output/abc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && resizeSeen != nil {
			body, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(body, resizeSeen))
		}
		_, _ = w.Write(output)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTinifyClient_NotConfigured(t *testing.T) {
	c := NewTinifyClient("", "", time.Second)
	assert.False(t, c.Configured())
	_, err := c.Compress(context.Background(), testPNG(t, 4, 4), 1024)
	assert.ErrorIs(t, err, ErrCompressionNotConfigured)
}

func TestTinifyClient_CompressWithoutResize(t *testing.T) {
	out := testPNG(t, 100, 50)
	var resize map[string]any
	srv := fakeTinify(t, out, &resize)

	c := NewTinifyClient("key", srv.URL+"/shrink", time.Second)
	src := testPNG(t, 100, 50)
	resp, err := c.Compress(context.Background(), src, 1024)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.False(t, resp.WasResized)
	assert.Nil(t, resize, "no resize call below the bound")
	assert.Equal(t, len(src), resp.OriginalSize)
	assert.Equal(t, len(out), resp.CompressedSize)
	assert.Equal(t, 100, resp.ProcessedDimensions.Width)
	assert.True(t, strings.HasPrefix(resp.CompressedImage, "data:image/png;base64,"))

	mime, data, err := normalize.DecodeDataURL(resp.CompressedImage)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, out, data)
}

func TestTinifyClient_CompressWithResize(t *testing.T) {
	var resize map[string]any
	srv := fakeTinify(t, testJPEG(t, 1024, 512), &resize)

	c := NewTinifyClient("key", srv.URL+"/shrink", time.Second)
	resp, err := c.Compress(context.Background(), testJPEG(t, 3000, 1500), 1024)
	require.NoError(t, err)

	assert.True(t, resp.WasResized)
	assert.Equal(t, 3000, resp.OriginalDimensions.Width)
	assert.Equal(t, 1024, resp.ProcessedDimensions.Width)
	assert.Equal(t, 512, resp.ProcessedDimensions.Height)
	require.NotNil(t, resize)
	opts := resize["resize"].(map[string]any)
	assert.Equal(t, "fit", opts["method"])
	assert.EqualValues(t, 1024, opts["width"])
	assert.EqualValues(t, 512, opts["height"])
	assert.True(t, strings.HasPrefix(resp.CompressedImage, "data:image/jpeg;base64,"))
}

func TestTinifyClient_BadKey(t *testing.T) {
	srv := fakeTinify(t, nil, nil)
	_, err := NewTinifyClient("wrong", srv.URL+"/shrink", time.Second).Compress(context.Background(), testPNG(t, 4, 4), 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestTinifyClient_RejectsNonImage(t *testing.T) {
	_, err := NewTinifyClient("key", "http://127.0.0.1:1/shrink", time.Second).Compress(context.Background(), []byte("text"), 1024)
	assert.ErrorIs(t, err, normalize.ErrUnsupportedFormat)
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, "50.0", CompressionRatio(200, 100))
	assert.Equal(t, "33.3", CompressionRatio(3, 2))
	assert.Equal(t, "-10.0", CompressionRatio(100, 110))
	assert.Equal(t, "0.0", CompressionRatio(0, 10))
}
