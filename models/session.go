package models

import (
	"strings"
	"time"
)

// Role tells whether an uploaded image is the person or a garment.
type Role string

const (
	RoleSubject Role = "subject"
	RoleGarment Role = "garment"
)

// ParseRole accepts the role names plus the "person"/"product" aliases used by
// the storefront widget.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "subject", "person":
		return RoleSubject, true
	case "garment", "product":
		return RoleGarment, true
	default:
		return "", false
	}
}

// SlotState is the normalization lifecycle of an upload slot.
type SlotState string

const (
	SlotQueued      SlotState = "queued"
	SlotNormalizing SlotState = "normalizing"
	SlotReady       SlotState = "ready"
	SlotFailed      SlotState = "failed"
)

// Settled reports whether the slot can no longer change state.
func (s SlotState) Settled() bool {
	return s == SlotReady || s == SlotFailed
}

// UploadSlot is one image inside an upload session. A failed slot still
// carries the original asset and can be submitted.
type UploadSlot struct {
	ID       string         `json:"id"`
	Role     Role           `json:"role"`
	State    SlotState      `json:"state"`
	Asset    *ImageAsset    `json:"asset,omitempty"`
	Metadata *ImageMetadata `json:"metadata,omitempty"`
	Backend  Backend        `json:"backend,omitempty"`
	// Preview is a small JPEG data URL of the settled asset.
	Preview string `json:"preview,omitempty"`
}

// SessionView is the externally visible state of an upload session.
type SessionView struct {
	ID        string       `json:"id"`
	Slots     []UploadSlot `json:"slots"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}
