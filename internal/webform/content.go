package webform

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// Entry is one stored custom-property value in sectioned form.
type Entry struct {
	ID              string           `json:"id"`
	Label           string           `json:"label"`
	Value           any              `json:"value"`
	Type            Widget           `json:"type,omitempty"`
	MeasurementUnit *MeasurementUnit `json:"measurementUnit,omitempty"`
	ClassMapping    *ClassMapping    `json:"classMapping,omitempty"`
}

// ClassMapping carries the semantic class of an entry.
type ClassMapping struct {
	IRI string `json:"iri"`
}

// ContentSection groups entries on the wire.
type ContentSection struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// Content is the sectioned form custom properties are stored in.
type Content struct {
	Sections []ContentSection `json:"sections"`
}

// Flat maps entry labels to values. Later labels win.
func (c Content) Flat() map[string]any {
	out := make(map[string]any)
	for _, sec := range c.Sections {
		for _, e := range sec.Entries {
			out[e.Label] = e.Value
		}
	}
	return out
}

// Content renders the record as sections following the webform. Values that
// did not match any field go into a trailing "General" section.
func (r *Record) Content() Content {
	var out Content
	index := make(map[string]int)
	for _, name := range r.schema.Order() {
		v, ok := r.values.Get(name)
		if !ok {
			continue
		}
		f, _ := r.schema.Field(name)
		i, seen := index[f.SectionID]
		if !seen {
			out.Sections = append(out.Sections, ContentSection{ID: f.SectionID, Name: f.SectionName})
			i = len(out.Sections) - 1
			index[f.SectionID] = i
		}
		e := Entry{
			ID:              f.InputID,
			Label:           f.Label,
			Value:           v.Raw(),
			Type:            f.Widget,
			MeasurementUnit: f.Unit,
		}
		if f.Class != "" {
			e.ClassMapping = &ClassMapping{IRI: f.Class}
		}
		out.Sections[i].Entries = append(out.Sections[i].Entries, e)
	}
	if len(r.extras) > 0 {
		out.Sections = append(out.Sections, ContentSection{
			ID:      GenerateID("id"),
			Name:    "General",
			Entries: slices.Clone(r.extras),
		})
	}
	return out
}

// MarshalJSON encodes the sectioned content.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Content())
}

// ParseContent decodes stored custom properties. It accepts the sectioned
// form, optionally wrapped in {"content": ...}.
func ParseContent(data []byte) (Content, error) {
	var c Content
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return c, nil
	}
	var wrapper struct {
		Content  *Content         `json:"content"`
		Sections []ContentSection `json:"sections"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return c, fmt.Errorf("webform: decode content: %w", err)
	}
	if wrapper.Content != nil {
		return *wrapper.Content, nil
	}
	c.Sections = wrapper.Sections
	return c, nil
}

// IsSectioned reports whether v already has the sectioned shape.
func IsSectioned(v map[string]any) bool {
	if inner, ok := v["content"].(map[string]any); ok {
		v = inner
	}
	_, ok := v["sections"].([]any)
	return ok
}

// Upgrade converts flat label-to-value pairs into sectioned content laid out
// by wf. Keys the webform does not declare end up in a "General" section.
// Without a webform the result is a single "Misc" section.
func Upgrade(flat map[string]any, wf *Webform, logger *slog.Logger) (Content, error) {
	if wf == nil {
		sec, err := miscSection("Misc", flat)
		if err != nil {
			return Content{}, err
		}
		return Content{Sections: []ContentSection{sec}}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	rest := maps.Clone(flat)
	var out Content
	for _, sec := range wf.Sections {
		cs := ContentSection{ID: sec.ID, Name: sec.Name}
		for _, in := range sec.Inputs {
			v, ok := rest[in.Label]
			if !ok {
				continue
			}
			delete(rest, in.Label)
			e := Entry{
				ID:              in.ID,
				Label:           in.Label,
				Value:           v,
				Type:            in.Widget,
				MeasurementUnit: in.MeasurementUnit,
			}
			if in.ClassMapping != "" {
				e.ClassMapping = &ClassMapping{IRI: in.ClassMapping}
			}
			cs.Entries = append(cs.Entries, e)
		}
		if len(cs.Entries) > 0 {
			out.Sections = append(out.Sections, cs)
		}
	}
	if len(rest) > 0 {
		logger.Info("webform: custom properties not declared by the webform",
			slog.Any("keys", slices.Sorted(maps.Keys(rest))))
		sec, err := miscSection("General", rest)
		if err != nil {
			return Content{}, err
		}
		out.Sections = append(out.Sections, sec)
	}
	return out, nil
}

// Infer derives a single-section webform from flat values.
func Infer(flat map[string]any) (*Webform, error) {
	sec := Section{ID: GenerateID("id"), Name: "Misc"}
	for _, key := range sortedKeys(flat) {
		w, err := widgetFor(flat[key])
		if err != nil {
			return nil, fmt.Errorf("webform: %q: %w", key, err)
		}
		sec.Inputs = append(sec.Inputs, Input{ID: GenerateID("id"), Label: key, Widget: w})
	}
	return &Webform{Sections: []Section{sec}}, nil
}

// FromContent derives a webform from stored sectioned content.
func FromContent(c Content) *Webform {
	wf := &Webform{SectionsEnabled: len(c.Sections) > 1}
	for _, cs := range c.Sections {
		sec := Section{ID: cs.ID, Name: cs.Name}
		for _, e := range cs.Entries {
			w := e.Type
			if w == "" {
				w, _ = widgetFor(e.Value)
			}
			in := Input{ID: e.ID, Label: e.Label, Widget: w, MeasurementUnit: e.MeasurementUnit}
			if e.ClassMapping != nil {
				in.ClassMapping = e.ClassMapping.IRI
			}
			sec.Inputs = append(sec.Inputs, in)
		}
		wf.Sections = append(wf.Sections, sec)
	}
	return wf
}

func miscSection(name string, flat map[string]any) (ContentSection, error) {
	sec := ContentSection{ID: GenerateID("id"), Name: name}
	for _, key := range sortedKeys(flat) {
		w, err := widgetFor(flat[key])
		if err != nil {
			return sec, fmt.Errorf("webform: %q: %w", key, err)
		}
		sec.Entries = append(sec.Entries, Entry{ID: GenerateID("id"), Label: key, Value: flat[key], Type: w})
	}
	return sec, nil
}

func widgetFor(v any) (Widget, error) {
	switch v.(type) {
	case string:
		return WidgetText, nil
	case bool:
		return WidgetCheckbox, nil
	case int, int32, int64, float32, float64, json.Number:
		return WidgetNumber, nil
	case []any, []string:
		return WidgetMultiSelect, nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
