package api

import (
	"fmt"
	"net/http"
	"regexp"
	"slices"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/cors"
)

var shopifyOrigins = []*regexp.Regexp{
	regexp.MustCompile(`^https://[a-zA-Z0-9-]+\.myshopify\.com$`),
	regexp.MustCompile(`^https://[a-zA-Z0-9-]+\.pages\.shopify\.com$`),
}

// OriginAllowed reports whether a browser origin may call the API.
func OriginAllowed(cfg *service.Config, origin string) bool {
	if origin == "" {
		return true
	}
	if slices.Contains(cfg.CORSAllowedOrigins, origin) || (cfg.FrontendURL != "" && origin == cfg.FrontendURL) {
		return true
	}
	if cfg.CORSAllowShopify {
		for _, re := range shopifyOrigins {
			if re.MatchString(origin) {
				return true
			}
		}
	}
	return false
}

// NewCORS builds the CORS policy for the API.
func NewCORS(cfg *service.Config) *cors.Cors {
	return cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			ok := OriginAllowed(cfg, origin)
			if !ok {
				logger.Debug().Str("origin", origin).Msg("cors: blocked origin")
			}
			return ok
		},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodOptions, http.MethodPatch,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin"},
		ExposedHeaders: []string{
			"Content-Length", "Content-Type", "Content-Disposition",
			headerOriginalSize, headerProcessedSize, headerDimensions, headerDPI, headerBackendUsed,
		},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}

// Setup installs the middleware chain shared by every route. JSON bodies carry
// base64 images, so the body limit leaves room for the encoding overhead.
func Setup(e *echo.Echo, cfg *service.Config) {
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil {
				ev = logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(echo.WrapMiddleware(NewCORS(cfg).Handler))
	if cfg.MaxUploadBytes > 0 {
		limit := cfg.MaxUploadBytes*4/3 + 1<<20
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", limit)))
	}
}
