package enrich

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// GeoIPConnector resolves IP indicators against local MaxMind databases.
// It adds country/ASN context to the enrichment record without network
// calls; it never contributes to the fused score.
type GeoIPConnector struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// NewGeoIPConnector opens the city database and, if asnPath is set, the
// ASN database.
func NewGeoIPConnector(cityPath, asnPath string) (*GeoIPConnector, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("open geoip city db: %w", err)
	}

	g := &GeoIPConnector{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			city.Close()
			return nil, fmt.Errorf("open geoip asn db: %w", err)
		}
		g.asn = asn
	}
	return g, nil
}

// Name returns "geoip".
func (g *GeoIPConnector) Name() string {
	return "geoip"
}

// Supports reports true only for IP indicators.
func (g *GeoIPConnector) Supports(t models.IndicatorType) bool {
	return t == models.IndicatorIP
}

// Lookup resolves the IP locally.
func (g *GeoIPConnector) Lookup(ctx context.Context, ind models.Indicator) (models.SourceResult, error) {
	ip := net.ParseIP(ind.Value)
	if ip == nil {
		return models.SourceResult{}, fmt.Errorf("invalid ip %q", ind.Value)
	}

	city, err := g.city.City(ip)
	if err != nil {
		return models.SourceResult{}, fmt.Errorf("geoip city lookup: %w", err)
	}

	report := &models.GeoIPReport{
		Country: city.Country.IsoCode,
		City:    city.City.Names["en"],
	}

	if g.asn != nil {
		if rec, err := g.asn.ASN(ip); err == nil {
			report.ASN = rec.AutonomousSystemNumber
			report.ASNOrg = rec.AutonomousSystemOrganization
		}
	}

	return models.SourceResult{GeoIP: report}, nil
}

// Close releases the database readers.
func (g *GeoIPConnector) Close() error {
	if g.asn != nil {
		g.asn.Close()
	}
	return g.city.Close()
}
