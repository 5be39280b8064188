package webform

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/units"
)

// Tracker receives dirty notifications for the owning kitem.
type Tracker interface {
	MarkUpdated(id uuid.UUID)
}

// RecordOption configures a Record.
type RecordOption func(*Record)

// WithTracker sets the dirty tracker.
func WithTracker(t Tracker) RecordOption {
	return func(r *Record) { r.tracker = t }
}

// WithUnits sets the resolver handed to numeric values.
func WithUnits(u units.Resolver) RecordOption {
	return func(r *Record) { r.units = u }
}

// Record is one kitem's custom properties, shaped by a Schema.
type Record struct {
	schema  *Schema
	values  *orderedmap.OrderedMap[string, Value]
	extras  []Entry
	owner   uuid.UUID
	tracker Tracker
	units   units.Resolver
}

// NewRecord creates a record populated with the schema defaults.
func (s *Schema) NewRecord(opts ...RecordOption) *Record {
	r := &Record{schema: s, values: orderedmap.New[string, Value]()}
	for _, opt := range opts {
		opt(r)
	}
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Default == nil {
			continue
		}
		v, err := coerce(pair.Value, pair.Value.Default)
		if err == nil {
			r.values.Set(pair.Key, r.stamp(pair.Key, v))
		}
	}
	return r
}

// Schema returns the record schema.
func (r *Record) Schema() *Schema { return r.schema }

// Owner returns the owning kitem id.
func (r *Record) Owner() uuid.UUID { return r.owner }

// SetOwner sets the owner and hands it to numeric values that have none.
func (r *Record) SetOwner(id uuid.UUID) {
	r.owner = id
	for pair := r.values.Oldest(); pair != nil; pair = pair.Next() {
		if n, ok := pair.Value.(*Numeric); ok && n.owner == uuid.Nil {
			n.owner = id
			if n.units == nil {
				n.units = r.units
			}
		}
	}
}

// Get returns the value of a field.
func (r *Record) Get(name string) (Value, bool) {
	return r.values.Get(name)
}

// Number returns a numeric field value.
func (r *Record) Number(name string) (*Numeric, bool) {
	v, ok := r.values.Get(name)
	if !ok {
		return nil, false
	}
	n, ok := v.(*Numeric)
	return n, ok
}

// Set assigns a field. Numbers become Numeric values stamped with the field
// name and owner. The owner is marked updated once it is known.
func (r *Record) Set(name string, v any) error {
	if err := r.set(name, v); err != nil {
		return err
	}
	r.touch()
	return nil
}

// Update assigns several fields at once, all or nothing.
func (r *Record) Update(values map[string]any) error {
	staged := r.clone()
	for _, name := range sortedKeys(values) {
		if err := staged.set(name, values[name]); err != nil {
			return err
		}
	}
	r.values = staged.values
	r.touch()
	return nil
}

// Load assigns values by name or label without marking the owner.
// Unknown keys are kept as extras unless strict is set.
func (r *Record) Load(values map[string]any, strict bool) error {
	for _, key := range sortedKeys(values) {
		f, ok := r.schema.Resolve(key)
		if !ok {
			if strict {
				return apperr.Invalidf("custom_properties", "unknown field %q", key)
			}
			r.extras = append(r.extras, Entry{ID: GenerateID("id"), Label: key, Value: values[key]})
			continue
		}
		if err := r.set(f.Name, values[key]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) set(name string, v any) error {
	f, ok := r.schema.Resolve(name)
	if !ok {
		return apperr.Invalidf("custom_properties", "unknown field %q", name)
	}
	if v == nil {
		r.values.Delete(f.Name)
		return nil
	}
	val, err := coerce(f, v)
	if err != nil {
		return apperr.Invalid("custom_properties."+f.Name, err)
	}
	r.values.Set(f.Name, r.stamp(f.Name, val))
	return nil
}

func (r *Record) stamp(name string, v Value) Value {
	if n, ok := v.(*Numeric); ok {
		return NewNumeric(n.value, name, r.owner, r.units)
	}
	return v
}

func (r *Record) touch() {
	if r.tracker != nil && r.owner != uuid.Nil {
		r.tracker.MarkUpdated(r.owner)
	}
}

func (r *Record) clone() *Record {
	c := *r
	c.values = orderedmap.New[string, Value]()
	for pair := r.values.Oldest(); pair != nil; pair = pair.Next() {
		c.values.Set(pair.Key, pair.Value)
	}
	return &c
}

// Fields returns the names of set fields in schema order.
func (r *Record) Fields() []string {
	out := make([]string, 0, r.values.Len())
	for _, name := range r.schema.Order() {
		if _, ok := r.values.Get(name); ok {
			out = append(out, name)
		}
	}
	return out
}

// Values returns the plain values of set fields.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, r.values.Len())
	for pair := r.values.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value.Raw()
	}
	return out
}

// Equal compares the plain values of two records.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	a, errA := json.Marshal(r.Content())
	b, errB := json.Marshal(other.Content())
	return errA == nil && errB == nil && string(a) == string(b)
}

func coerce(f *Field, v any) (Value, error) {
	if val, ok := v.(Value); ok {
		v = val.Raw()
	}
	switch f.Kind {
	case KindNumber:
		if _, isBool := v.(bool); isBool {
			return nil, fmt.Errorf("expected a number, got %v", v)
		}
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %T", v)
		}
		return &Numeric{value: n}, nil
	case KindBool:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fmt.Errorf("expected a boolean, got %T", v)
		}
		return Flag(b), nil
	case KindChoice:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("expected one of %v, got %T", f.Choices, v)
		}
		if len(f.Choices) > 0 && !slices.Contains(f.Choices, s) {
			return nil, fmt.Errorf("%q is not one of %v", s, f.Choices)
		}
		return Choice(s), nil
	case KindList:
		items, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, fmt.Errorf("expected a list, got %T", v)
		}
		for _, it := range items {
			if len(f.Choices) > 0 && !slices.Contains(f.Choices, it) {
				return nil, fmt.Errorf("%q is not one of %v", it, f.Choices)
			}
		}
		return Items(items), nil
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("expected a string, got %T", v)
		}
		return Text(s), nil
	}
}
