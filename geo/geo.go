package geo

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

var (
	// ErrInvalidIP is returned for addresses that do not parse.
	ErrInvalidIP = errors.New("geo: invalid ip address")
	// ErrUnknownLocation is returned when the address has no known location.
	ErrUnknownLocation = errors.New("geo: location unknown")
)

// Location is the coarse position recorded on a session.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// IsZero reports whether no component of the location is known.
func (l Location) IsZero() bool {
	return l.Country == "" && l.Region == "" && l.City == ""
}

func (l Location) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.Region, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Resolver maps an IP address to a [Location].
type Resolver interface {
	Lookup(ip string) (Location, error)
}

// GeoIPResolver reads MaxMind City databases.
type GeoIPResolver struct {
	reader *geoip2.Reader
}

// OpenGeoIP opens the .mmdb file at path.
func OpenGeoIP(path string) (*GeoIPResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIPResolver{reader: reader}, nil
}

// Lookup implements [Resolver].
func (g *GeoIPResolver) Lookup(ip string) (Location, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return Location{}, ErrInvalidIP
	}

	record, err := g.reader.City(parsed)
	if err != nil {
		return Location{}, err
	}

	loc := Location{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	if loc.IsZero() {
		return Location{}, ErrUnknownLocation
	}
	return loc, nil
}

// Close releases the database.
func (g *GeoIPResolver) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

// StaticResolver answers from a fixed table keyed by IP string. It backs
// tests and deployments that run without a GeoIP database.
type StaticResolver map[string]Location

// Lookup implements [Resolver].
func (s StaticResolver) Lookup(ip string) (Location, error) {
	ip = strings.TrimSpace(ip)
	if net.ParseIP(ip) == nil {
		return Location{}, ErrInvalidIP
	}
	loc, ok := s[ip]
	if !ok {
		return Location{}, ErrUnknownLocation
	}
	return loc, nil
}
