package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Info is the geo enrichment attached to tracked clicks.
type Info struct {
	Country     string
	CountryCode string
	Region      string
	City        string
}

// cityRecord is the subset of the GeoLite2 City schema we decode.
type cityRecord struct {
	Country struct {
		IsoCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Subdivisions []struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
}

// Provider resolves IP addresses against a MaxMind GeoLite2 City database.
type Provider struct {
	reader *maxminddb.Reader
}

// NewProvider opens the database at the given path.
func NewProvider(dbPath string) (*Provider, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &Provider{reader: reader}, nil
}

// Lookup returns geo information for an IP address.
func (p *Provider) Lookup(ip string) (*Info, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	var record cityRecord
	if err := p.reader.Lookup(parsedIP, &record); err != nil {
		return nil, err
	}

	info := &Info{
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names["en"]
	}
	return info, nil
}

// Close closes the GeoIP database.
func (p *Provider) Close() error {
	if p.reader != nil {
		return p.reader.Close()
	}
	return nil
}
