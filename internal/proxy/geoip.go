package proxy

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPLocator looks requester addresses up in a GeoLite2 City database.
type GeoIPLocator struct {
	reader *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geolite database: %w", err)
	}
	return &GeoIPLocator{reader: reader}, nil
}

func (g *GeoIPLocator) Locate(ip string) (*Location, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil, fmt.Errorf("invalid ip %q", ip)
	}
	record, err := g.reader.City(addr)
	if err != nil {
		return nil, err
	}
	if record.Country.IsoCode == "" {
		return nil, nil
	}
	return &Location{
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
		Lat:         record.Location.Latitude,
		Lon:         record.Location.Longitude,
	}, nil
}

func (g *GeoIPLocator) Close() error {
	return g.reader.Close()
}
