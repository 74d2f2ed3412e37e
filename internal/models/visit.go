package models

import (
	"time"

	"github.com/google/uuid"
)

// Device types a visit can be classified as
const (
	DeviceTypeDesktop = "desktop"
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
	DeviceTypeRobot   = "robot"
)

// Visit is one observation of a redirect traversal. Optional fields stay
// nil unless the link tracks them.
type Visit struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	URLID     uuid.UUID  `db:"url_id" json:"url_id"`
	OwnerID   *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"` // Copied from the link at visit time
	VisitedAt time.Time  `db:"visited_at" json:"visited_at"`

	IPAddress              *string `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent              *string `db:"user_agent" json:"user_agent,omitempty"`
	OperatingSystem        *string `db:"operating_system" json:"operating_system,omitempty"`
	OperatingSystemAlias   *string `db:"operating_system_alias" json:"operating_system_alias,omitempty"`
	OperatingSystemVersion *string `db:"operating_system_version" json:"operating_system_version,omitempty"`
	Browser                *string `db:"browser" json:"browser,omitempty"`
	BrowserVersion         *string `db:"browser_version" json:"browser_version,omitempty"`
	Engine                 *string `db:"engine" json:"engine,omitempty"`
	RefererURL             *string `db:"referer_url" json:"referer_url,omitempty"`
	DeviceType             *string `db:"device_type" json:"device_type,omitempty"`
	DeviceManufacturer     *string `db:"device_manufacturer" json:"device_manufacturer,omitempty"`
	DeviceModel            *string `db:"device_model" json:"device_model,omitempty"`

	ISOCode    *string  `db:"iso_code" json:"iso_code,omitempty"`
	Country    *string  `db:"country" json:"country,omitempty"`
	City       *string  `db:"city" json:"city,omitempty"`
	State      *string  `db:"state" json:"state,omitempty"`
	PostalCode *string  `db:"postal_code" json:"postal_code,omitempty"`
	Timezone   *string  `db:"timezone" json:"timezone,omitempty"`
	Lat        *float64 `db:"lat" json:"lat,omitempty"`
	Long       *float64 `db:"long" json:"long,omitempty"`
	Continent  *string  `db:"continent" json:"continent,omitempty"`
	Currency   *string  `db:"currency" json:"currency,omitempty"`
	IsDefault  bool     `db:"is_default" json:"is_default"` // Location fell back to the default

	RequestHeaders Headers    `db:"request_headers" json:"request_headers"` // Always stored
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
}

// Optional returns a pointer to s, or nil when s is empty.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
