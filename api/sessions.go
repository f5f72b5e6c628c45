package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
	"github.com/labstack/echo/v4"
)

func (h handler) createSession(c echo.Context) error {
	view := h.Sessions.Create()
	logger.Info().Str("endpoint", "create_session").Str("session", view.ID).Msg("session created")
	return c.JSON(http.StatusCreated, view)
}

func (h handler) getSession(c echo.Context) error {
	view, err := h.Sessions.Snapshot(c.Param("id"))
	if err != nil {
		logger.Debug().Str("endpoint", "get_session").Str("session", c.Param("id")).Err(err).Msg("session lookup failed")
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h handler) deleteSession(c echo.Context) error {
	if err := h.Sessions.DeleteSession(c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h handler) addSlot(c echo.Context) error {
	sessionID := c.Param("id")
	role, ok := models.ParseRole(c.FormValue("role"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be subject or garment")
	}
	asset, err := h.readUpload(c)
	if err != nil {
		return err
	}

	slot, err := h.Sessions.AddSlot(c.Request().Context(), sessionID, role, asset)
	if err != nil {
		logger.Warn().Str("endpoint", "add_slot").Str("session", sessionID).Str("role", string(role)).Err(err).Msg("failed to add slot")
		return mapServiceError(err)
	}

	logger.Info().Str("endpoint", "add_slot").Str("session", sessionID).Str("slot", slot.ID).Str("role", string(role)).Msg("slot queued")
	return c.JSON(http.StatusAccepted, slot)
}

func (h handler) removeSlot(c echo.Context) error {
	if err := h.Sessions.RemoveSlot(c.Param("id"), c.Param("slot")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// sessionTryOn waits for the session's slots to settle and submits them. The
// optional JSON body becomes the prediction parameters.
func (h handler) sessionTryOn(c echo.Context) error {
	sessionID := c.Param("id")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}
	var params map[string]any
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			logger.Warn().Str("endpoint", "session_try_on").Err(err).Msg("invalid request payload")
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}
	}

	ctx := c.Request().Context()
	pr, err := h.Sessions.BuildPrediction(ctx, sessionID, params)
	if err != nil {
		logger.Warn().Str("endpoint", "session_try_on").Str("session", sessionID).Err(err).Msg("session not ready for prediction")
		return mapServiceError(err)
	}

	resp, err := h.Predictor.Predict(ctx, pr)
	if err != nil {
		logger.Error().Str("endpoint", "session_try_on").Str("session", sessionID).Err(err).Msg("prediction request failed")
		return mapServiceError(err)
	}

	logger.Info().Str("endpoint", "session_try_on").Str("session", sessionID).Int("predictions", len(resp.Predictions)).Msg("prediction completed")
	return c.JSON(http.StatusOK, resp)
}
