package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/service"
	"github.com/labstack/echo/v4"
)

func setProxyHeaders(c echo.Context, contentType, cacheControl string) {
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderAccessControlAllowOrigin, "*")
	hdr.Set(echo.HeaderAccessControlAllowMethods, http.MethodGet)
	hdr.Set(echo.HeaderAccessControlAllowHeaders, echo.HeaderContentType)
	hdr.Set(echo.HeaderContentType, contentType)
	hdr.Set("Cache-Control", cacheControl)
}

func (h handler) proxyImage(c echo.Context) error {
	rawURL := strings.TrimSpace(c.QueryParam("url"))
	if rawURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Image URL is required")
	}

	res, err := h.ImageProxy.Fetch(c.Request().Context(), rawURL)
	if err != nil {
		logger.Warn().Str("endpoint", "proxy_image").Err(err).Msg("error proxying image")
		if errors.Is(err, service.ErrInvalidURL) {
			return mapServiceError(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load image")
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	setProxyHeaders(c, contentType, "public, max-age=3600")
	return c.Stream(http.StatusOK, contentType, bytes.NewReader(res.Body))
}

func (h handler) proxyCSV(c echo.Context) error {
	rawURL := strings.TrimSpace(c.QueryParam("url"))
	if rawURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "CSV URL is required")
	}

	res, err := h.CSVProxy.Fetch(c.Request().Context(), rawURL)
	if err != nil {
		logger.Warn().Str("endpoint", "proxy_csv").Err(err).Msg("error proxying csv")
		if errors.Is(err, service.ErrInvalidURL) {
			return mapServiceError(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load CSV")
	}

	const contentType = "text/csv; charset=utf-8"
	setProxyHeaders(c, contentType, "public, max-age=300")
	return c.Blob(http.StatusOK, contentType, res.Body)
}

// tryOn forwards the request body to the prediction endpoint unchanged.
func (h handler) tryOn(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is required")
	}

	raw, err := h.Predictor.PredictRaw(c.Request().Context(), body)
	if err != nil {
		logger.Error().Str("endpoint", "try_on").Err(err).Msg("prediction request failed")
		return mapServiceError(err)
	}
	logger.Info().Str("endpoint", "try_on").Int("response_bytes", len(raw)).Msg("prediction relayed")
	return c.JSONBlob(http.StatusOK, raw)
}
