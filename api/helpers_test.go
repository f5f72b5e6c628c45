package api

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/creativespaces/mirrify/db"
	"github.com/creativespaces/mirrify/models"
	"github.com/creativespaces/mirrify/normalize"
	"github.com/creativespaces/mirrify/service"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

// multipartRequest builds a POST with an optional "image" file and form fields.
func multipartRequest(t *testing.T, target string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if image != nil {
		part, err := w.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

type stubTokens struct {
	token string
	err   error
}

func (s stubTokens) AccessToken(context.Context) (string, error) {
	return s.token, s.err
}

type stubPredictor struct {
	raw     []byte
	resp    *models.PredictionResponse
	err     error
	gotBody []byte
	gotReq  models.PredictionRequest
}

func (s *stubPredictor) PredictRaw(_ context.Context, body []byte) ([]byte, error) {
	s.gotBody = body
	return s.raw, s.err
}

func (s *stubPredictor) Predict(_ context.Context, pr models.PredictionRequest) (*models.PredictionResponse, error) {
	s.gotReq = pr
	return s.resp, s.err
}

type stubCompressor struct {
	resp    models.CompressResponse
	err     error
	gotData []byte
	gotMax  int
}

func (s *stubCompressor) Compress(_ context.Context, data []byte, maxDimension int) (models.CompressResponse, error) {
	s.gotData = data
	s.gotMax = maxDimension
	return s.resp, s.err
}

type stubFetcher struct {
	res    *service.FetchResult
	err    error
	gotURL string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (*service.FetchResult, error) {
	s.gotURL = rawURL
	return s.res, s.err
}

type testServer struct {
	e          *echo.Echo
	predictor  *stubPredictor
	compressor *stubCompressor
	images     *stubFetcher
	csv        *stubFetcher
	sessions   *service.SessionStore
}

// newTestServer wires the real normalization chain (native only), sessions and
// analytics database with stubbed outbound collaborators.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := service.NewTestConfig()

	pipeline := normalize.NewPipeline([]normalize.Tier{
		{Backend: models.BackendNative, Encoder: normalize.NewNativeEncoder(), Timeout: cfg.NativeTimeout},
	})
	pool := service.NewNormalizePool(pipeline, cfg.NormalizeQueueSize, cfg.NormalizeWorkers)
	sessions := service.NewSessionStore(pool, time.Minute, service.SessionPolicy{
		SingleSubject: true,
		MaxGarments:   2,
		Request:       models.DefaultNormalizationRequest(),
	})
	t.Cleanup(func() {
		sessions.Stop()
		pool.Stop()
	})

	events, err := db.NewDatabase(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	ts := &testServer{
		e:          echo.New(),
		predictor:  &stubPredictor{},
		compressor: &stubCompressor{},
		images:     &stubFetcher{},
		csv:        &stubFetcher{},
		sessions:   sessions,
	}
	Setup(ts.e, cfg)
	RegisterRoutes(ts.e, Deps{
		Sessions:       sessions,
		Pipeline:       pipeline,
		Native:         normalize.NewNativeEncoder(),
		Compressor:     ts.compressor,
		Predictor:      ts.predictor,
		Tokens:         stubTokens{token: "ya29.test"},
		ImageProxy:     ts.images,
		CSVProxy:       ts.csv,
		Events:         events,
		NativeTimeout:  cfg.NativeTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}
