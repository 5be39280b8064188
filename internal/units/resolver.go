package units

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

var (
	ErrNoUnit           = errors.New("units: no unit defined")
	ErrAmbiguousUnit    = errors.New("units: more than one unit defined")
	ErrUnknownUnit      = errors.New("units: unknown unit")
	ErrIncompatibleUnit = errors.New("units: incompatible units")
)

// Resolver is what unit-aware values need from the outside world.
type Resolver interface {
	UnitFor(owner uuid.UUID, property string) (Unit, error)
	ConversionFactor(from, to string, decimals int) (float64, error)
}

// Source lists the units declared for a property of an entity.
type Source interface {
	Units(owner uuid.UUID, property string) ([]Unit, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(owner uuid.UUID, property string) ([]Unit, error)

// Units implements Source.
func (f SourceFunc) Units(owner uuid.UUID, property string) ([]Unit, error) {
	return f(owner, property)
}

// Service implements Resolver over a Source and a Catalog.
type Service struct {
	src     Source
	catalog *Catalog
}

var _ Resolver = (*Service)(nil)

// NewService creates a resolver. A nil catalog means the built-in one.
func NewService(src Source, catalog *Catalog) *Service {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Service{src: src, catalog: catalog}
}

// UnitFor returns the single unit declared for property of owner.
func (s *Service) UnitFor(owner uuid.UUID, property string) (Unit, error) {
	if s.src == nil {
		return Unit{}, fmt.Errorf("%w for %q", ErrNoUnit, property)
	}
	found, err := s.src.Units(owner, property)
	if err != nil {
		return Unit{}, err
	}
	switch len(found) {
	case 0:
		return Unit{}, fmt.Errorf("%w for property %q of %s", ErrNoUnit, property, owner)
	case 1:
		u := found[0]
		if u.IRI == "" || u.Symbol == "" {
			if d, ok := s.lookup(u); ok {
				u = d.Unit()
			}
		}
		return u, nil
	default:
		return Unit{}, fmt.Errorf("%w for property %q of %s: %d candidates", ErrAmbiguousUnit, property, owner, len(found))
	}
}

func (s *Service) lookup(u Unit) (Definition, bool) {
	if u.IRI != "" {
		if d, ok := s.catalog.Lookup(u.IRI); ok {
			return d, true
		}
	}
	return s.catalog.Lookup(u.Symbol)
}

// ConversionFactor returns the multiplier turning a value in from into a
// value in to. decimals < 0 disables rounding.
func (s *Service) ConversionFactor(from, to string, decimals int) (float64, error) {
	src, ok := s.catalog.Lookup(from)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, from)
	}
	dst, ok := s.catalog.Lookup(to)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, to)
	}
	if src.Kind != dst.Kind {
		return 0, fmt.Errorf("%w: %s (%s) and %s (%s)", ErrIncompatibleUnit, src.Symbol, src.Kind, dst.Symbol, dst.Kind)
	}
	factor := src.Multiplier / dst.Multiplier
	if decimals >= 0 {
		factor = Round(factor, decimals)
	}
	return factor, nil
}

// Round rounds v half away from zero to decimals places.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
