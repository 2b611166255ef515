package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

// CoordinateCache answers with coordinates already stored for an area.
type CoordinateCache interface {
	Coordinates(areaName string) (dataset.Point, bool)
}

// Resolver finds coordinates for an area name by trying, in order, the
// stored dataset, the configured overrides and the live locator. Aliases
// translate published names into the ones the sources know.
type Resolver struct {
	cache     CoordinateCache
	live      Locator
	aliases   map[string]string
	overrides map[string]dataset.Point
}

func NewResolver(cache CoordinateCache, live Locator, aliases map[string]string, overrides map[string]dataset.Point) *Resolver {
	if aliases == nil {
		aliases = map[string]string{}
	}
	if overrides == nil {
		overrides = map[string]dataset.Point{}
	}
	return &Resolver{cache: cache, live: live, aliases: aliases, overrides: overrides}
}

// Canonical returns the name the coordinate sources use for areaName.
func (r *Resolver) Canonical(areaName string) string {
	if alias, ok := r.aliases[areaName]; ok {
		return alias
	}
	return areaName
}

// Resolve never fails: an area nobody can place reports false and the
// reasons are logged.
func (r *Resolver) Resolve(ctx context.Context, areaName string) (dataset.Point, bool) {
	name := strings.TrimSpace(areaName)
	if name == "" {
		return dataset.Point{}, false
	}

	var result *multierror.Error

	if r.cache != nil {
		if p, ok := r.cache.Coordinates(name); ok {
			r.checkOverride(name, p)
			return p, true
		}
	}
	result = multierror.Append(result, errors.New("cache: no stored coordinates"))

	canonical := r.Canonical(name)
	if p, ok := r.override(canonical, name); ok {
		return p, true
	}
	result = multierror.Append(result, errors.New("override: none configured"))

	if r.live != nil {
		p, err := r.live.Locate(ctx, canonical)
		if err == nil {
			return p, true
		}
		result = multierror.Append(result, err)
	} else {
		result = multierror.Append(result, errors.New("live: no locator configured"))
	}

	log.WithFields(log.Fields{
		"prefix": logPrefix,
		"area":   name,
		"lookup": canonical,
		"error":  result.ErrorOrNil(),
	}).Warn("could not resolve coordinates")
	return dataset.Point{}, false
}

func (r *Resolver) override(names ...string) (dataset.Point, bool) {
	for _, n := range names {
		if p, ok := r.overrides[n]; ok {
			return p, true
		}
	}
	return dataset.Point{}, false
}

// checkOverride flags a stored value that disagrees with a configured
// override. The stored value wins.
func (r *Resolver) checkOverride(name string, stored dataset.Point) {
	p, ok := r.override(r.Canonical(name), name)
	if !ok || p.Equal(stored) {
		return
	}
	log.WithFields(log.Fields{
		"prefix":   logPrefix,
		"area":     name,
		"stored":   stored,
		"override": p,
	}).Warn("stored coordinates disagree with override")
}
