package models

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Redirect status codes a short link may answer with
var RedirectStatusCodes = []int{
	http.StatusMovedPermanently,
	http.StatusFound,
	http.StatusSeeOther,
	http.StatusTemporaryRedirect,
	http.StatusPermanentRedirect,
}

// DefaultRedirectStatusCode is used when a link does not configure one
const DefaultRedirectStatusCode = http.StatusFound

// ShortLink maps a short key to its destination.
type ShortLink struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Key            string     `db:"url_key" json:"key"`                     // Unique among non-deleted links
	DestinationURL string     `db:"destination_url" json:"destination_url"` // Redirect target
	OwnerID        *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"`     // Nil for guest links

	SingleUse          bool `db:"single_use" json:"single_use"`                     // Only the first traversal redirects
	ForwardQueryParams bool `db:"forward_query_params" json:"forward_query_params"` // Append the request query to the destination
	RedirectStatusCode int  `db:"redirect_status_code" json:"redirect_status_code"`

	TrackVisits                 bool `db:"track_visits" json:"track_visits"`
	TrackIPAddress              bool `db:"track_ip_address" json:"track_ip_address"`
	TrackOperatingSystem        bool `db:"track_operating_system" json:"track_operating_system"`
	TrackOperatingSystemVersion bool `db:"track_operating_system_version" json:"track_operating_system_version"`
	TrackBrowser                bool `db:"track_browser" json:"track_browser"`
	TrackBrowserVersion         bool `db:"track_browser_version" json:"track_browser_version"`
	TrackRefererURL             bool `db:"track_referer_url" json:"track_referer_url"`
	TrackDeviceType             bool `db:"track_device_type" json:"track_device_type"`

	ActivatedAt   time.Time  `db:"activated_at" json:"activated_at"`               // Inert before this instant
	DeactivatedAt *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"` // Inert at and after this instant
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// NewShortLink returns a link with the column defaults applied.
func NewShortLink(key, destination string, owner *uuid.UUID, now time.Time) *ShortLink {
	return &ShortLink{
		ID:                          uuid.New(),
		Key:                         key,
		DestinationURL:              destination,
		OwnerID:                     owner,
		RedirectStatusCode:          DefaultRedirectStatusCode,
		TrackVisits:                 true,
		TrackIPAddress:              true,
		TrackOperatingSystem:        true,
		TrackOperatingSystemVersion: true,
		TrackBrowser:                true,
		TrackBrowserVersion:         true,
		TrackRefererURL:             true,
		TrackDeviceType:             true,
		ActivatedAt:                 now,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}
}

// IsGuest reports whether the link has no owner
func (l *ShortLink) IsGuest() bool {
	return l.OwnerID == nil
}

// IsDeleted reports whether the link was soft deleted
func (l *ShortLink) IsDeleted() bool {
	return l.DeletedAt != nil
}

// TrackingFields lists the visit fields recorded for this link.
// It is empty when visit tracking is disabled.
func (l *ShortLink) TrackingFields() []string {
	if !l.TrackVisits {
		return []string{}
	}

	fields := make([]string, 0, 7)
	if l.TrackIPAddress {
		fields = append(fields, "ip_address")
	}
	if l.TrackOperatingSystem {
		fields = append(fields, "operating_system")
	}
	if l.TrackOperatingSystemVersion {
		fields = append(fields, "operating_system_version")
	}
	if l.TrackBrowser {
		fields = append(fields, "browser")
	}
	if l.TrackBrowserVersion {
		fields = append(fields, "browser_version")
	}
	if l.TrackRefererURL {
		fields = append(fields, "referer_url")
	}
	if l.TrackDeviceType {
		fields = append(fields, "device_type")
	}
	return fields
}

// IsValidRedirectStatusCode reports whether code is an accepted redirect status
func IsValidRedirectStatusCode(code int) bool {
	for _, c := range RedirectStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}
