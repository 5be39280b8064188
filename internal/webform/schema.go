package webform

import (
	"fmt"
	"log/slog"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Field is one generated custom-property field.
type Field struct {
	Name        string
	Label       string
	Kind        Kind
	Widget      Widget
	Required    bool
	Choices     []string
	Default     any
	Unit        *MeasurementUnit
	Class       string
	InputID     string
	SectionID   string
	SectionName string
}

// Schema is the field layout derived from a webform. It does not change
// after Build.
type Schema struct {
	webform *Webform
	fields  *orderedmap.OrderedMap[string, *Field]
	labels  map[string]string
}

// Build derives a schema from wf. Unsupported widgets fall back to strings
// and are reported on logger.
func Build(wf *Webform, logger *slog.Logger) (*Schema, error) {
	if wf == nil {
		return nil, fmt.Errorf("webform: nil webform")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Schema{
		webform: wf,
		fields:  orderedmap.New[string, *Field](),
		labels:  make(map[string]string),
	}
	for _, sec := range wf.Sections {
		for _, in := range sec.Inputs {
			if in.Label == "" {
				return nil, fmt.Errorf("webform: input %q in section %q has no label", in.ID, sec.Name)
			}
			f := &Field{
				Label:       in.Label,
				Widget:      in.Widget,
				Required:    in.Required,
				Unit:        in.MeasurementUnit,
				Class:       in.ClassMapping,
				InputID:     in.ID,
				SectionID:   sec.ID,
				SectionName: sec.Name,
			}
			f.Kind, f.Choices = kindOf(in, logger)
			f.Name = s.uniqueName(FieldName(in.Label), logger)
			if f.Name == "" {
				return nil, fmt.Errorf("webform: label %q does not yield a field name", in.Label)
			}
			if def := in.DefaultValue; def != nil || in.Value != nil {
				if def == nil {
					def = in.Value
				}
				v, err := coerce(f, def)
				if err != nil {
					logger.Warn("webform: default ignored",
						slog.String("field", f.Name),
						slog.String("error", err.Error()))
				} else {
					f.Default = v.Raw()
				}
			}
			s.fields.Set(f.Name, f)
			if _, seen := s.labels[in.Label]; !seen {
				s.labels[in.Label] = f.Name
			}
		}
	}
	return s, nil
}

func kindOf(in Input, logger *slog.Logger) (Kind, []string) {
	choices := make([]string, 0, len(in.SelectOptions))
	for _, o := range in.SelectOptions {
		choices = append(choices, o.Choice())
	}
	switch in.Widget {
	case WidgetText, WidgetFile, WidgetTextarea:
		return KindString, nil
	case WidgetNumber, WidgetSlider:
		return KindNumber, nil
	case WidgetCheckbox:
		return KindBool, nil
	case WidgetSelect, WidgetRadio:
		if in.Multiple {
			return KindList, choices
		}
		return KindChoice, choices
	case WidgetMultiSelect:
		return KindList, choices
	case WidgetKnowledgeItem:
		logger.Warn("webform: knowledge item inputs are stored as plain strings",
			slog.String("label", in.Label))
		return KindString, nil
	default:
		logger.Warn("webform: unsupported widget, falling back to string",
			slog.String("label", in.Label),
			slog.String("widget", string(in.Widget)))
		return KindString, nil
	}
}

func (s *Schema) uniqueName(name string, logger *slog.Logger) string {
	if _, taken := s.fields.Get(name); !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if _, taken := s.fields.Get(candidate); !taken {
			logger.Warn("webform: duplicate label renamed",
				slog.String("field", name),
				slog.String("renamed", candidate))
			return candidate
		}
	}
}

// Webform returns the webform the schema was built from.
func (s *Schema) Webform() *Webform { return s.webform }

// Order returns the field names in webform order.
func (s *Schema) Order() []string {
	out := make([]string, 0, s.fields.Len())
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Kinds maps every field name to its kind.
func (s *Schema) Kinds() map[string]Kind {
	out := make(map[string]Kind, s.fields.Len())
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value.Kind
	}
	return out
}

// Defaults maps field names to their declared defaults. Fields without a
// default are absent.
func (s *Schema) Defaults() map[string]any {
	out := make(map[string]any)
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Default != nil {
			out[pair.Key] = pair.Value.Default
		}
	}
	return out
}

// Field returns a field by name.
func (s *Schema) Field(name string) (*Field, bool) {
	return s.fields.Get(name)
}

// Resolve finds a field by name, by exact label, or by the field name of a label.
func (s *Schema) Resolve(key string) (*Field, bool) {
	if f, ok := s.fields.Get(key); ok {
		return f, true
	}
	if name, ok := s.labels[key]; ok {
		return s.fields.Get(name)
	}
	return s.fields.Get(FieldName(key))
}

// Len returns the number of fields.
func (s *Schema) Len() int { return s.fields.Len() }
