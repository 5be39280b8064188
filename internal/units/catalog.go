// Package units resolves physical units for custom-property values and converts between them.
package units

import (
	"math"
	"strings"
)

// QUDTUnitBase prefixes every unit IRI in the built-in catalog.
const QUDTUnitBase = "http://qudt.org/vocab/unit/"

// Unit is the unit attached to a property value.
type Unit struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	IRI    string `json:"iri" yaml:"iri"`
}

// Definition is one catalog entry. Multiplier converts a value in this unit
// into the SI base unit of Kind.
type Definition struct {
	Name       string
	Symbol     string
	Kind       string
	Multiplier float64
}

// IRI returns the QUDT IRI of the definition.
func (d Definition) IRI() string {
	return QUDTUnitBase + d.Name
}

// Unit returns the definition as a Unit reference.
func (d Definition) Unit() Unit {
	return Unit{Symbol: d.Symbol, IRI: d.IRI()}
}

var builtin = []Definition{
	{"M", "m", "Length", 1},
	{"KiloM", "km", "Length", 1e3},
	{"CentiM", "cm", "Length", 1e-2},
	{"MilliM", "mm", "Length", 1e-3},
	{"MicroM", "µm", "Length", 1e-6},
	{"NanoM", "nm", "Length", 1e-9},
	{"IN", "in", "Length", 0.0254},
	{"FT", "ft", "Length", 0.3048},

	{"KiloGM", "kg", "Mass", 1},
	{"GM", "g", "Mass", 1e-3},
	{"MilliGM", "mg", "Mass", 1e-6},
	{"TONNE", "t", "Mass", 1e3},

	{"SEC", "s", "Time", 1},
	{"MilliSEC", "ms", "Time", 1e-3},
	{"MIN", "min", "Time", 60},
	{"HR", "h", "Time", 3600},
	{"DAY", "d", "Time", 86400},

	{"PA", "Pa", "Pressure", 1},
	{"KiloPA", "kPa", "Pressure", 1e3},
	{"MegaPA", "MPa", "Pressure", 1e6},
	{"GigaPA", "GPa", "Pressure", 1e9},
	{"BAR", "bar", "Pressure", 1e5},

	{"N", "N", "Force", 1},
	{"KiloN", "kN", "Force", 1e3},

	{"J", "J", "Energy", 1},
	{"KiloJ", "kJ", "Energy", 1e3},

	{"K", "K", "ThermodynamicTemperature", 1},
	{"DEG_C", "°C", "ThermodynamicTemperature", 1},

	{"M2", "m²", "Area", 1},
	{"CentiM2", "cm²", "Area", 1e-4},
	{"MilliM2", "mm²", "Area", 1e-6},

	{"M3", "m³", "Volume", 1},
	{"L", "L", "Volume", 1e-3},
	{"MilliL", "mL", "Volume", 1e-6},

	{"M-PER-SEC", "m/s", "Velocity", 1},
	{"KiloM-PER-HR", "km/h", "Velocity", 1 / 3.6},

	{"KiloGM-PER-M3", "kg/m³", "Density", 1},
	{"GM-PER-CentiM3", "g/cm³", "Density", 1e3},

	{"RAD", "rad", "Angle", 1},
	{"DEG", "°", "Angle", math.Pi / 180},

	{"PERCENT", "%", "DimensionlessRatio", 1e-2},
}

// Catalog indexes definitions by symbol and by IRI.
type Catalog struct {
	bySymbol map[string]Definition
	byIRI    map[string]Definition
}

// NewCatalog builds a catalog from the built-in definitions plus extra.
// Extra definitions win over built-ins with the same symbol or IRI.
func NewCatalog(extra ...Definition) *Catalog {
	c := &Catalog{
		bySymbol: make(map[string]Definition),
		byIRI:    make(map[string]Definition),
	}
	for _, d := range builtin {
		c.add(d)
	}
	for _, d := range extra {
		c.add(d)
	}
	return c
}

func (c *Catalog) add(d Definition) {
	c.bySymbol[d.Symbol] = d
	c.byIRI[d.IRI()] = d
}

// Lookup resolves a symbol or an IRI. Symbols that are not URLs are matched
// exactly first and then case-insensitively.
func (c *Catalog) Lookup(ref string) (Definition, bool) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		d, ok := c.byIRI[ref]
		return d, ok
	}
	if d, ok := c.bySymbol[ref]; ok {
		return d, true
	}
	for sym, d := range c.bySymbol {
		if strings.EqualFold(sym, ref) || strings.EqualFold(d.Name, ref) {
			return d, true
		}
	}
	return Definition{}, false
}
