package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/creativespaces/mirrify/db"
	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
	"github.com/creativespaces/mirrify/normalize"
	"github.com/creativespaces/mirrify/service"
	"github.com/labstack/echo/v4"
)

// Compressor is the server side of the cloud compression contract.
type Compressor interface {
	Compress(ctx context.Context, data []byte, maxDimension int) (models.CompressResponse, error)
}

// Predictor relays prediction requests to the try-on model.
type Predictor interface {
	PredictRaw(ctx context.Context, body []byte) ([]byte, error)
	Predict(ctx context.Context, pr models.PredictionRequest) (*models.PredictionResponse, error)
}

// Fetcher downloads remote resources for the proxies.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*service.FetchResult, error)
}

// EventStore persists analytics events.
type EventStore interface {
	InsertEvent(ev models.AnalyticsEvent) (int64, error)
	ListEvents(filter models.EventFilter) ([]models.AnalyticsEvent, error)
}

// Deps carries the collaborators used by the handlers.
type Deps struct {
	Sessions   *service.SessionStore
	Pipeline   service.Normalizer
	Native     normalize.Encoder
	Compressor Compressor
	Predictor  Predictor
	Tokens     service.TokenSource
	ImageProxy Fetcher
	CSVProxy   Fetcher
	Events     EventStore

	NativeTimeout  time.Duration
	MaxUploadBytes int64
}

// RegisterRoutes wires API endpoints to Echo handlers.
func RegisterRoutes(e *echo.Echo, deps Deps) {
	h := handler{deps}
	e.GET("/", h.index)
	e.GET("/api/health", h.health)
	e.GET("/api/auth/token", h.accessToken)

	e.POST("/api/process-image", h.processImage)
	e.POST("/api/image-metadata", h.imageMetadata)
	e.POST("/api/normalize", h.normalizeImage)
	e.POST("/api/compress-image", h.compressImage)

	e.GET("/api/proxy-image", h.proxyImage)
	e.GET("/api/proxy-csv", h.proxyCSV)
	e.POST("/api/try-on", h.tryOn)

	e.POST("/api/sessions", h.createSession)
	e.GET("/api/sessions/:id", h.getSession)
	e.DELETE("/api/sessions/:id", h.deleteSession)
	e.POST("/api/sessions/:id/slots", h.addSlot)
	e.DELETE("/api/sessions/:id/slots/:slot", h.removeSlot)
	e.POST("/api/sessions/:id/try-on", h.sessionTryOn)

	e.POST("/api/events/register", h.registerEvent)
	e.GET("/api/events", h.listEvents)
}

type handler struct {
	Deps
}

func (h handler) index(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "OK",
		"message": "Backend server is running",
		"endpoints": map[string]any{
			"health": "/api/health",
			"auth":   "/api/auth/token",
			"tryOn":  "/api/try-on",
			"images": map[string]string{
				"process":   "/api/process-image",
				"metadata":  "/api/image-metadata",
				"normalize": "/api/normalize",
				"compress":  "/api/compress-image",
			},
			"proxy": map[string]string{
				"image": "/api/proxy-image",
				"csv":   "/api/proxy-csv",
			},
			"sessions": "/api/sessions",
			"analytics": map[string]string{
				"registerEvent": "/api/events/register",
				"getEvents":     "/api/events",
			},
		},
	})
}

func (h handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "OK", "message": "Server is running"})
}

func (h handler) accessToken(c echo.Context) error {
	token, err := h.Tokens.AccessToken(c.Request().Context())
	if err != nil {
		logger.Error().Str("endpoint", "auth_token").Err(err).Msg("failed to get access token")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get access token")
	}
	return c.JSON(http.StatusOK, map[string]string{"accessToken": token})
}

func mapServiceError(err error) error {
	var upstream *service.UpstreamError
	switch {
	case errors.As(err, &upstream):
		return echo.NewHTTPError(upstream.StatusCode, upstream.Message)
	case errors.Is(err, normalize.ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrSlotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSubjectExists), errors.Is(err, service.ErrTooManyGarments):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrMissingSubject), errors.Is(err, service.ErrMissingGarment),
		errors.Is(err, service.ErrInvalidURL), errors.Is(err, db.ErrMissingEventFields):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrPoolStopped),
		errors.Is(err, normalize.ErrBackendUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrFetchFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, service.ErrAuth):
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get access token")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
