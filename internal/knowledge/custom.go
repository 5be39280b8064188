package knowledge

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/session"
	"github.com/starford/dsms/internal/units"
	"github.com/starford/dsms/internal/webform"
)

// buildCustom turns v into a record of the kitem type's schema. Types
// without a webform get a schema inferred from the values themselves.
func (k *KItem) buildCustom(v any, strict bool) (*webform.Record, error) {
	var schema *webform.Schema
	if k.ktype != nil {
		schema = k.ktype.Schema()
	}

	var (
		flat     map[string]any
		content  *webform.Content
		upgraded bool
	)
	switch x := v.(type) {
	case nil:
		if schema == nil {
			return nil, nil
		}
		return k.newRecord(schema), nil
	case *webform.Record:
		c := x.Content()
		content, flat = &c, c.Flat()
	case webform.Content:
		content, flat = &x, x.Flat()
	case map[string]any:
		if webform.IsSectioned(x) {
			c, err := decodeContent(x)
			if err != nil {
				return nil, invalid("custom_properties", err)
			}
			content, flat = &c, c.Flat()
			break
		}
		flat = x
		upgraded = schema != nil && len(x) > 0
	default:
		return nil, invalid("custom_properties", fmt.Errorf("unsupported value of type %T", v))
	}

	if schema == nil {
		if len(flat) == 0 {
			return nil, nil
		}
		var wf *webform.Webform
		if content != nil {
			wf = webform.FromContent(*content)
		} else {
			var err error
			if wf, err = webform.Infer(flat); err != nil {
				return nil, invalid("custom_properties", err)
			}
		}
		var err error
		if schema, err = webform.Build(wf, k.sess.Logger()); err != nil {
			return nil, invalid("custom_properties", err)
		}
	}

	rec := k.newRecord(schema)
	if err := rec.Load(flat, strict); err != nil {
		return nil, err
	}
	if upgraded {
		k.sess.Warn("knowledge: flat custom properties were upgraded to the sectioned form",
			"kitem", k.id.String(), "ktype", k.ktypeID)
	}
	return rec, nil
}

func (k *KItem) newRecord(schema *webform.Schema) *webform.Record {
	return schema.NewRecord(
		webform.WithTracker(k.sess),
		webform.WithUnits(sessionUnits{sess: k.sess}),
	)
}

func decodeContent(m map[string]any) (webform.Content, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return webform.Content{}, err
	}
	return webform.ParseContent(data)
}

// sessionUnits defers to the resolver the session holds at call time, so
// values built before SetUnits still convert.
type sessionUnits struct {
	sess *session.Session
}

func (u sessionUnits) UnitFor(owner uuid.UUID, property string) (units.Unit, error) {
	r := u.sess.Units()
	if r == nil {
		return units.Unit{}, fmt.Errorf("%w for %q: no unit resolver configured", units.ErrNoUnit, property)
	}
	return r.UnitFor(owner, property)
}

func (u sessionUnits) ConversionFactor(from, to string, decimals int) (float64, error) {
	r := u.sess.Units()
	if r == nil {
		return 0, fmt.Errorf("%w: no unit resolver configured", units.ErrUnknownUnit)
	}
	return r.ConversionFactor(from, to, decimals)
}

// UnitSource reads declared units from the custom property schemas of the
// kitems registered in sess.
func UnitSource(sess *session.Session) units.Source {
	return units.SourceFunc(func(owner uuid.UUID, property string) ([]units.Unit, error) {
		e, ok := sess.LookupKItem(owner)
		if !ok {
			return nil, fmt.Errorf("knowledge: kitem %s is not loaded", owner)
		}
		k, ok := e.(*KItem)
		if !ok {
			return nil, nil
		}
		var schema *webform.Schema
		switch {
		case k.custom != nil:
			schema = k.custom.Schema()
		case k.ktype != nil:
			schema = k.ktype.Schema()
		}
		if schema == nil {
			return nil, nil
		}
		f, ok := schema.Resolve(property)
		if !ok || f.Unit == nil {
			return nil, nil
		}
		return []units.Unit{{Symbol: f.Unit.Symbol, IRI: f.Unit.IRI}}, nil
	})
}
