package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is the geography resolved for an address.
type Location struct {
	Country string
	City    string
}

// Reader resolves addresses against a MaxMind City or Country database.
type Reader struct {
	db *geoip2.Reader
}

// Open loads the database at path.
func Open(path string) (*Reader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

// Lookup returns the ISO country code and English city name for ip.
func (r *Reader) Lookup(ip net.IP) (Location, error) {
	rec, err := r.db.City(ip)
	if err != nil {
		return Location{}, err
	}
	return Location{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}, nil
}

// Close releases the memory-mapped database.
func (r *Reader) Close() error {
	return r.db.Close()
}
