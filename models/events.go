package models

import "time"

// AnalyticsEvent is a storefront interaction recorded by the widget.
type AnalyticsEvent struct {
	ID            int64     `json:"id,omitempty"`
	EventType     string    `json:"eventType"`
	ProductID     *string   `json:"productId"`
	ProductTitle  *string   `json:"productTitle"`
	ProductHandle *string   `json:"productHandle"`
	Timestamp     time.Time `json:"timestamp"`
	Shop          string    `json:"shop"`
}

// RegisterEventRequest is the payload of POST /api/events/register.
type RegisterEventRequest struct {
	EventType     string  `json:"eventType"`
	ProductID     *string `json:"productId"`
	ProductTitle  *string `json:"productTitle"`
	ProductHandle *string `json:"productHandle"`
	Timestamp     string  `json:"timestamp"`
	Shop          string  `json:"shop"`
}

// RegisterEventResponse acknowledges a stored event.
type RegisterEventResponse struct {
	Success bool  `json:"success"`
	EventID int64 `json:"eventId"`
}

// EventFilter narrows an analytics listing. Zero values disable a filter.
type EventFilter struct {
	EventType string
	Shop      string
	Start     *time.Time
	End       *time.Time
	Limit     int
	Offset    int
}
