// Package geoip resolves visitor IP addresses to locations using a MaxMind
// GeoLite2 City database.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnavailable is returned when no database is loaded
	ErrUnavailable = errors.New("geoip database unavailable")
	ErrInvalidIP   = errors.New("invalid ip address")
)

// Location is the geographic information known about an IP address
type Location struct {
	ISOCode    string  `json:"iso_code"`
	Country    string  `json:"country"`
	City       string  `json:"city"`
	StateName  string  `json:"state_name"`
	StateCode  string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Timezone   string  `json:"timezone"`
	Lat        float64 `json:"lat"`
	Long       float64 `json:"lon"`
	Continent  string  `json:"continent"`
	Currency   string  `json:"currency"`
	// IsDefault marks addresses that cannot be located, such as private ranges
	IsDefault bool `json:"default"`
}

// State renders the subdivision as "Name (CODE)", or "" when unknown.
func (l *Location) State() string {
	if l.StateName == "" && l.StateCode == "" {
		return ""
	}
	return fmt.Sprintf("%s (%s)", l.StateName, l.StateCode)
}

// Lookuper resolves an IP address to a location
type Lookuper interface {
	Lookup(ip string) (*Location, error)
}

// Reader looks addresses up in a GeoLite2 City database
type Reader struct {
	reader *geoip2.Reader
	mu     sync.RWMutex
}

// Open loads the database at path. A missing database is not fatal: the
// returned reader answers every lookup with ErrUnavailable.
func Open(path string) *Reader {
	reader, err := geoip2.Open(path)
	if err != nil {
		log.Warn().
			Err(err).
			Str("path", path).
			Msg("Could not load GeoIP database")
		return &Reader{}
	}

	log.Info().
		Str("path", path).
		Msg("Successfully loaded GeoIP database")
	return &Reader{reader: reader}
}

// Available reports whether a database is loaded
func (g *Reader) Available() bool {
	return g.reader != nil
}

// Lookup returns location information for an IP address
func (g *Reader) Lookup(ipAddr string) (*Location, error) {
	ip := net.ParseIP(ipAddr)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ipAddr)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return &Location{IsDefault: true}, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.reader == nil {
		return nil, ErrUnavailable
	}

	record, err := g.reader.City(ip)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", ipAddr, err)
	}

	loc := &Location{
		ISOCode:    record.Country.IsoCode,
		Country:    record.Country.Names["en"],
		City:       record.City.Names["en"],
		PostalCode: record.Postal.Code,
		Timezone:   record.Location.TimeZone,
		Lat:        record.Location.Latitude,
		Long:       record.Location.Longitude,
		Continent:  record.Continent.Code,
		Currency:   CurrencyFor(record.Country.IsoCode),
	}
	if len(record.Subdivisions) > 0 {
		loc.StateName = record.Subdivisions[0].Names["en"]
		loc.StateCode = record.Subdivisions[0].IsoCode
	}
	if loc.ISOCode == "" {
		loc.IsDefault = true
	}
	return loc, nil
}

// Close releases the database
func (g *Reader) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.reader == nil {
		return nil
	}
	err := g.reader.Close()
	g.reader = nil
	return err
}
