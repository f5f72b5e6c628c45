package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
	"github.com/creativespaces/mirrify/normalize"
	"github.com/creativespaces/mirrify/service"
	"github.com/labstack/echo/v4"
)

const (
	headerOriginalSize  = "X-Original-Size"
	headerProcessedSize = "X-Processed-Size"
	headerDimensions    = "X-Dimensions"
	headerDPI           = "X-DPI"
	headerBackendUsed   = "X-Backend-Used"
)

// readUpload extracts the multipart "image" field.
func (h handler) readUpload(c echo.Context) (models.ImageAsset, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return models.ImageAsset{}, echo.NewHTTPError(http.StatusBadRequest, "No image file provided")
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		return models.ImageAsset{}, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("image exceeds the %d byte upload limit", h.MaxUploadBytes))
	}
	f, err := fh.Open()
	if err != nil {
		return models.ImageAsset{}, echo.NewHTTPError(http.StatusBadRequest, "unreadable image upload")
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		return models.ImageAsset{}, echo.NewHTTPError(http.StatusBadRequest, "unreadable image upload")
	}
	if len(data) == 0 {
		return models.ImageAsset{}, echo.NewHTTPError(http.StatusBadRequest, "No image file provided")
	}
	return models.ImageAsset{Data: data, MIMEType: fh.Header.Get("Content-Type"), Filename: fh.Filename}, nil
}

// parseNormalizationRequest reads the resize options sent alongside an upload.
// Missing fields keep their defaults.
func parseNormalizationRequest(c echo.Context) (models.NormalizationRequest, error) {
	req := models.DefaultNormalizationRequest()
	var format string
	err := echo.FormFieldBinder(c).
		Int("maxDimension", &req.MaxDimension).
		Int("quality", &req.Quality).
		String("format", &format).
		Bool("preserveMetadata", &req.PreserveMetadata).
		Int("dpi", &req.DPI).
		BindError()
	if err != nil {
		return req, err
	}

	if req.MaxDimension < 0 {
		return req, echo.NewHTTPError(http.StatusBadRequest, "maxDimension must be positive")
	}
	if req.Quality < 1 || req.Quality > 100 {
		return req, echo.NewHTTPError(http.StatusBadRequest, "quality must be between 1 and 100")
	}
	if req.DPI < 0 {
		return req, echo.NewHTTPError(http.StatusBadRequest, "dpi must not be negative")
	}
	if format != "" {
		f, ok := models.ParseOutputFormat(format)
		if !ok {
			return req, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported output format %q", format))
		}
		req.OutputFormat = f
	}
	return req.WithDefaults(), nil
}

func setImageHeaders(c echo.Context, originalSize int, out models.ImageAsset, meta models.ImageMetadata) {
	hdr := c.Response().Header()
	hdr.Set(headerOriginalSize, strconv.Itoa(originalSize))
	hdr.Set(headerProcessedSize, strconv.Itoa(out.Size()))
	hdr.Set(headerDimensions, fmt.Sprintf("%dx%d", meta.Width, meta.Height))
	hdr.Set(headerDPI, strconv.Itoa(meta.Density))
	if out.Filename != "" {
		hdr.Set(echo.HeaderContentDisposition, mime.FormatMediaType("inline", map[string]string{"filename": out.Filename}))
	}
}

// processImage runs the native tier only; there is no fallback.
func (h handler) processImage(c echo.Context) error {
	asset, err := h.readUpload(c)
	if err != nil {
		return err
	}
	req, err := parseNormalizationRequest(c)
	if err != nil {
		logger.Warn().Str("endpoint", "process_image").Err(err).Msg("invalid request parameters")
		return err
	}

	meta, err := normalize.ReadMetadata(asset.Data)
	if err != nil {
		logger.Warn().Str("endpoint", "process_image").Str("filename", asset.Filename).Err(err).Msg("rejected upload")
		return mapServiceError(err)
	}

	logger.Debug().
		Str("endpoint", "process_image").
		Int("original_size", asset.Size()).
		Int("max_dimension", req.MaxDimension).
		Int("quality", req.Quality).
		Str("format", string(req.OutputFormat)).
		Bool("preserve_metadata", req.PreserveMetadata).
		Msg("processing image")

	ctx := c.Request().Context()
	if h.NativeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.NativeTimeout)
		defer cancel()
	}
	target := normalize.Plan(meta.Width, meta.Height, req.MaxDimension)
	out, err := h.Native.Encode(ctx, asset, meta, target, req)
	if err != nil {
		logger.Error().Str("endpoint", "process_image").Err(err).Msg("failed to process image")
		if errors.Is(err, normalize.ErrEncode) {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process image")
		}
		return mapServiceError(err)
	}
	outMeta, err := normalize.ReadMetadata(out.Data)
	if err != nil {
		logger.Error().Str("endpoint", "process_image").Err(err).Msg("processed image is unreadable")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process image")
	}

	logger.Info().
		Str("endpoint", "process_image").
		Int("original_size", asset.Size()).
		Int("processed_size", out.Size()).
		Str("dimensions", fmt.Sprintf("%dx%d", outMeta.Width, outMeta.Height)).
		Str("compression_ratio", service.CompressionRatio(asset.Size(), out.Size())).
		Msg("image processed")

	setImageHeaders(c, asset.Size(), out, outMeta)
	return c.Blob(http.StatusOK, out.MIMEType, out.Data)
}

func (h handler) imageMetadata(c echo.Context) error {
	asset, err := h.readUpload(c)
	if err != nil {
		return err
	}
	meta, err := normalize.ReadMetadata(asset.Data)
	if err != nil {
		logger.Warn().Str("endpoint", "image_metadata").Str("filename", asset.Filename).Err(err).Msg("failed to get image metadata")
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, meta)
}

// normalizeImage runs the full tier chain. The response is always an image:
// when every tier fails the original upload comes back tagged passthrough.
func (h handler) normalizeImage(c echo.Context) error {
	asset, err := h.readUpload(c)
	if err != nil {
		return err
	}
	req, err := parseNormalizationRequest(c)
	if err != nil {
		logger.Warn().Str("endpoint", "normalize").Err(err).Msg("invalid request parameters")
		return err
	}
	if _, err := normalize.Inspect(asset); err != nil {
		logger.Warn().Str("endpoint", "normalize").Str("filename", asset.Filename).Err(err).Msg("rejected upload")
		return mapServiceError(err)
	}

	res := h.Pipeline.Normalize(c.Request().Context(), asset, req)
	mimeType := res.Asset.MIMEType
	if mimeType == "" {
		mimeType = normalize.DetectMIME(res.Asset.Data)
	}

	logger.Info().
		Str("endpoint", "normalize").
		Str("backend", string(res.BackendUsed)).
		Int("attempts", len(res.Attempts)).
		Int("original_size", asset.Size()).
		Int("processed_size", res.Asset.Size()).
		Msg("image normalized")

	setImageHeaders(c, asset.Size(), res.Asset, res.Metadata)
	c.Response().Header().Set(headerBackendUsed, string(res.BackendUsed))
	return c.Blob(http.StatusOK, mimeType, res.Asset.Data)
}

// compressImage answers with the CompressResponse shape even on failure so
// that callers can read the fallback flag.
func (h handler) compressImage(c echo.Context) error {
	var req models.CompressRequest
	if err := c.Bind(&req); err != nil {
		logger.Warn().Str("endpoint", "compress_image").Err(err).Msg("invalid request payload")
		return c.JSON(http.StatusBadRequest, models.CompressResponse{Error: "invalid payload"})
	}
	if req.ImageData == "" {
		return c.JSON(http.StatusBadRequest, models.CompressResponse{Error: "Image data is required"})
	}
	_, data, err := normalize.DecodeDataURL(req.ImageData)
	if err != nil {
		logger.Warn().Str("endpoint", "compress_image").Err(err).Msg("invalid image data")
		return c.JSON(http.StatusBadRequest, models.CompressResponse{Error: "Image data is not a valid base64 payload"})
	}

	resp, err := h.Compressor.Compress(c.Request().Context(), data, req.MaxDimension)
	if errors.Is(err, service.ErrCompressionNotConfigured) {
		logger.Warn().Str("endpoint", "compress_image").Msg("compression requested without API key")
		return c.JSON(http.StatusBadRequest, models.CompressResponse{Error: err.Error(), Fallback: true})
	}
	if err != nil {
		logger.Error().Str("endpoint", "compress_image").Err(err).Msg("compression failed")
		return c.JSON(http.StatusInternalServerError, models.CompressResponse{
			Error:    "TinyPNG compression failed",
			Fallback: true,
			Details:  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}
