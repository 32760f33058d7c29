package geolite

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Resolver answers country lookups from a local GeoLite2 database.
// Enrichment is optional; callers treat lookup failures as "unknown".
type Resolver struct {
	reader *geoip2.Reader
}

func Open(path string) (*Resolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geolite: open database %q: %w", path, err)
	}
	return &Resolver{reader: reader}, nil
}

func (r *Resolver) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", errors.New("geolite: invalid IP address")
	}

	record, err := r.reader.Country(parsed)
	if err != nil {
		return "", err
	}

	return record.Country.Names["en"], nil
}

func (r *Resolver) Close() error {
	return r.reader.Close()
}
