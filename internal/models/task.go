package models

import (
	"time"

	"github.com/google/uuid"
)

// TrackingTask is the payload enqueued for every redirect of a live link.
// It carries a snapshot of the link so the worker never re-reads it.
type TrackingTask struct {
	// ID identifies the traversal and becomes the visit's ID, so a task
	// delivered twice is recorded once
	ID        uuid.UUID  `json:"id"`
	IP        string     `json:"ip"`
	UserAgent string     `json:"user_agent"`
	Referer   string     `json:"referer"`
	Headers   Headers    `json:"headers"`
	ShortLink *ShortLink `json:"short_link"`
	// RequestedAt is when the redirect was served
	RequestedAt time.Time `json:"requested_at"`
}
