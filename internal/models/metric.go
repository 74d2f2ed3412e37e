package models

import (
	"time"

	"github.com/google/uuid"
)

// MetricType is the dimension an aggregated metric groups by
type MetricType string

const (
	MetricCountry MetricType = "country"
	MetricCity    MetricType = "city"
	MetricBrowser MetricType = "browser"
	MetricOS      MetricType = "os"
	MetricDevice  MetricType = "device"
)

// MetricTypes in aggregation order
var MetricTypes = []MetricType{MetricCountry, MetricCity, MetricBrowser, MetricOS, MetricDevice}

// AggregatedMetric is one daily rollup row keyed by
// (owner, date, type, name, parent).
type AggregatedMetric struct {
	OwnerID         uuid.UUID  `db:"owner_id" json:"owner_id"`
	Date            time.Time  `db:"date" json:"date"`
	Type            MetricType `db:"type" json:"type"`
	Name            string     `db:"name" json:"name"`
	Parent          string     `db:"parent" json:"parent,omitempty"` // Empty when the dimension has no parent
	TotalVisits     int        `db:"total_visits" json:"total_visits"`
	SharePercentage float64    `db:"share_percentage" json:"share_percentage"`
	Metadata        Metadata   `db:"metadata" json:"metadata,omitempty"`
}
