package webform

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/units"
)

// Kind is the value type of a generated field.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindChoice
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindChoice:
		return "choice"
	case KindList:
		return "list"
	default:
		return "string"
	}
}

// Value is the content of one record field.
type Value interface {
	Kind() Kind
	// Raw returns the plain Go value used for serialization.
	Raw() any
}

// Text is a string field value.
type Text string

func (Text) Kind() Kind       { return KindString }
func (t Text) Raw() any       { return string(t) }
func (t Text) String() string { return string(t) }

// Flag is a checkbox value.
type Flag bool

func (Flag) Kind() Kind { return KindBool }
func (f Flag) Raw() any { return bool(f) }

// Choice is one of the declared options of a select or radio input.
type Choice string

func (Choice) Kind() Kind { return KindChoice }
func (c Choice) Raw() any { return string(c) }

// Items is a multi-select value.
type Items []string

func (Items) Kind() Kind { return KindList }
func (i Items) Raw() any { return []string(i) }

// Numeric is a number that knows which field of which kitem it belongs to,
// so its unit can be resolved and converted.
type Numeric struct {
	value float64
	name  string
	owner uuid.UUID
	units units.Resolver
}

// NewNumeric wraps v for the field name.
func NewNumeric(v float64, name string, owner uuid.UUID, r units.Resolver) *Numeric {
	return &Numeric{value: v, name: name, owner: owner, units: r}
}

func (*Numeric) Kind() Kind { return KindNumber }

// Raw returns the plain number.
func (n *Numeric) Raw() any { return n.value }

// Float64 returns the plain number.
func (n *Numeric) Float64() float64 { return n.value }

// Name returns the field name the value is stored under.
func (n *Numeric) Name() string { return n.name }

// Owner returns the id of the owning kitem.
func (n *Numeric) Owner() uuid.UUID { return n.owner }

func (n *Numeric) String() string {
	return strconv.FormatFloat(n.value, 'g', -1, 64)
}

// MarshalJSON encodes the plain number.
func (n *Numeric) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.value)
}

// Unit resolves the unit declared for this field of the owning kitem.
func (n *Numeric) Unit() (units.Unit, error) {
	if n.units == nil {
		return units.Unit{}, fmt.Errorf("%w: no unit resolver for %q", units.ErrNoUnit, n.name)
	}
	if n.owner == uuid.Nil {
		return units.Unit{}, fmt.Errorf("%w: %q has no owning kitem", units.ErrNoUnit, n.name)
	}
	return n.units.UnitFor(n.owner, n.name)
}

// ConvertTo returns the value expressed in target. decimals < 0 keeps full
// precision.
func (n *Numeric) ConvertTo(target string, decimals int) (float64, error) {
	u, err := n.Unit()
	if err != nil {
		return 0, err
	}
	from := u.IRI
	if from == "" {
		from = u.Symbol
	}
	factor, err := n.units.ConversionFactor(from, target, -1)
	if err != nil {
		return 0, err
	}
	out := n.value * factor
	if decimals >= 0 {
		out = units.Round(out, decimals)
	}
	return out, nil
}
