// Package webform turns a knowledge type's form specification into a
// runtime schema for custom properties and holds the tracked records built
// from it.
package webform

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/oklog/ulid/v2"
)

// Widget is the kind of input a webform field is edited with.
type Widget string

const (
	WidgetText          Widget = "Text"
	WidgetFile          Widget = "File"
	WidgetTextarea      Widget = "Textarea"
	WidgetNumber        Widget = "Number"
	WidgetSlider        Widget = "Slider"
	WidgetCheckbox      Widget = "Checkbox"
	WidgetSelect        Widget = "Select"
	WidgetRadio         Widget = "Radio"
	WidgetMultiSelect   Widget = "Multi-select"
	WidgetKnowledgeItem Widget = "Knowledge item"
)

// SelectOption is one choice of a select, radio or multi-select input.
type SelectOption struct {
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Label    string `json:"label" yaml:"label"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Choice returns the string stored when the option is picked.
func (o SelectOption) Choice() string {
	if o.Value != nil {
		return fmt.Sprint(o.Value)
	}
	if o.Key != "" {
		return o.Key
	}
	return o.Label
}

// MeasurementUnit is the physical unit declared on a numeric input.
type MeasurementUnit struct {
	IRI       string `json:"iri,omitempty" yaml:"iri,omitempty"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Symbol    string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// RangeOptions bound slider inputs.
type RangeOptions struct {
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Step  float64 `json:"step,omitempty" yaml:"step,omitempty"`
	Range bool    `json:"range,omitempty" yaml:"range,omitempty"`
}

// Input is one field of a webform section.
type Input struct {
	ID              string           `json:"id" yaml:"id"`
	Label           string           `json:"label" yaml:"label"`
	Widget          Widget           `json:"widget" yaml:"widget"`
	Required        bool             `json:"required,omitempty" yaml:"required,omitempty"`
	DefaultValue    any              `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Value           any              `json:"value,omitempty" yaml:"value,omitempty"`
	Hint            string           `json:"hint,omitempty" yaml:"hint,omitempty"`
	Hidden          bool             `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Ignore          bool             `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	SelectOptions   []SelectOption   `json:"selectOptions,omitempty" yaml:"selectOptions,omitempty"`
	MeasurementUnit *MeasurementUnit `json:"measurementUnit,omitempty" yaml:"measurementUnit,omitempty"`
	ClassMapping    string           `json:"classMapping,omitempty" yaml:"classMapping,omitempty"`
	Multiple        bool             `json:"multipleSelection,omitempty" yaml:"multipleSelection,omitempty"`
	KnowledgeType   string           `json:"knowledgeType,omitempty" yaml:"knowledgeType,omitempty"`
	RangeOptions    *RangeOptions    `json:"rangeOptions,omitempty" yaml:"rangeOptions,omitempty"`
}

// Section groups inputs.
type Section struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	Inputs []Input `json:"inputs" yaml:"inputs"`
	Hidden bool    `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// Webform is the declarative custom-property layout of a knowledge type.
type Webform struct {
	SemanticsEnabled bool      `json:"semanticsEnabled" yaml:"semanticsEnabled"`
	SectionsEnabled  bool      `json:"sectionsEnabled" yaml:"sectionsEnabled"`
	ClassMapping     string    `json:"classMapping,omitempty" yaml:"classMapping,omitempty"`
	Sections         []Section `json:"sections" yaml:"sections"`
}

// Parse decodes a webform. Empty input yields nil.
func Parse(data []byte) (*Webform, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var wf Webform
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("webform: decode: %w", err)
	}
	return &wf, nil
}

// FieldName turns a label into a field name: lowercase letters and digits
// joined by single underscores.
func FieldName(label string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// GenerateID returns prefix followed by a lowercase ULID.
func GenerateID(prefix string) string {
	return prefix + strings.ToLower(ulid.Make().String())
}
