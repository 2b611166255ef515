package geocode

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

// MapsLocator geocodes area names with the Google Geocoding API,
// restricted to Great Britain.
type MapsLocator struct {
	client *maps.Client
}

func NewMapsLocator(apiKey string, opts ...maps.ClientOption) (*MapsLocator, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	c, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &MapsLocator{client: c}, nil
}

func (m *MapsLocator) Locate(ctx context.Context, name string) (dataset.Point, error) {
	results, err := m.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:    name,
		Region:     "uk",
		Components: map[maps.Component]string{maps.ComponentCountry: "GB"},
	})
	if err != nil {
		return dataset.Point{}, fmt.Errorf("maps geocode %q: %w", name, err)
	}
	if len(results) == 0 {
		return dataset.Point{}, fmt.Errorf("maps geocode: %q %w", name, ErrNotFound)
	}
	loc := results[0].Geometry.Location
	return dataset.Point{Lat: loc.Lat, Lon: loc.Lng}, nil
}
