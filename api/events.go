package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
	"github.com/labstack/echo/v4"
)

// parseEventTime accepts RFC 3339 timestamps and plain dates.
func parseEventTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func (h handler) registerEvent(c echo.Context) error {
	var req models.RegisterEventRequest
	if err := c.Bind(&req); err != nil {
		logger.Warn().Str("endpoint", "register_event").Err(err).Msg("invalid request payload")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	ev := models.AnalyticsEvent{
		EventType:     strings.TrimSpace(req.EventType),
		ProductID:     req.ProductID,
		ProductTitle:  req.ProductTitle,
		ProductHandle: req.ProductHandle,
		Shop:          strings.TrimSpace(req.Shop),
	}
	if req.Timestamp != "" {
		ts, err := parseEventTime(req.Timestamp)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ev.Timestamp = ts
	}

	id, err := h.Events.InsertEvent(ev)
	if err != nil {
		logger.Warn().Str("endpoint", "register_event").Str("shop", ev.Shop).Err(err).Msg("failed to register event")
		return mapServiceError(err)
	}

	logger.Info().Str("endpoint", "register_event").Str("event_type", ev.EventType).Str("shop", ev.Shop).Int64("event_id", id).Msg("event registered")
	return c.JSON(http.StatusOK, models.RegisterEventResponse{Success: true, EventID: id})
}

func (h handler) listEvents(c echo.Context) error {
	var (
		filter     models.EventFilter
		start, end string
	)
	err := echo.QueryParamsBinder(c).
		String("eventType", &filter.EventType).
		String("shop", &filter.Shop).
		String("startDate", &start).
		String("endDate", &end).
		Int("limit", &filter.Limit).
		Int("offset", &filter.Offset).
		BindError()
	if err != nil {
		return err
	}
	if start != "" {
		t, err := parseEventTime(start)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Start = &t
	}
	if end != "" {
		t, err := parseEventTime(end)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.End = &t
	}

	events, err := h.Events.ListEvents(filter)
	if err != nil {
		logger.Error().Str("endpoint", "list_events").Err(err).Msg("failed to fetch events")
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, events)
}
