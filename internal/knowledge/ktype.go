package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/session"
	"github.com/starford/dsms/internal/webform"
)

const maxKTypeField = 50

// KType is a knowledge type. Its custom property schema is derived from the
// webform and changes only through SetWebform.
type KType struct {
	sess       *session.Session
	id         string
	name       string
	webform    *webform.Webform
	schema     *webform.Schema
	jsonSchema json.RawMessage
	createdAt  string
	updatedAt  string
}

// NewKType validates and registers a type. Types the backend does not know
// are staged as created and updated.
func NewKType(ctx context.Context, sess *session.Session, id, name string, wf *webform.Webform) (*KType, error) {
	kt := &KType{sess: sess, id: id, name: name}
	if err := kt.validate(); err != nil {
		return nil, err
	}
	if err := kt.applyWebform(wf); err != nil {
		return nil, err
	}
	_, err := sess.Backend().GetKType(ctx, id)
	switch {
	case err == nil:
		sess.Buffers().MarkUpdated(kt)
	case isNotFound(err):
		sess.Buffers().MarkCreated(kt)
		sess.Buffers().MarkUpdated(kt)
	default:
		return nil, fmt.Errorf("knowledge: check ktype %s: %w", id, err)
	}
	sess.AddKType(kt)
	return kt, nil
}

func (kt *KType) validate() error {
	if kt.id == "" {
		return &apperr.ValidationError{Entity: "ktype", Field: "id", Err: errRequired}
	}
	if utf8.RuneCountInString(kt.id) > maxKTypeField {
		return &apperr.ValidationError{Entity: "ktype", Field: "id", Err: fmt.Errorf("longer than %d characters", maxKTypeField)}
	}
	if utf8.RuneCountInString(kt.name) > maxKTypeField {
		return &apperr.ValidationError{Entity: "ktype", Field: "name", Err: fmt.Errorf("longer than %d characters", maxKTypeField)}
	}
	return nil
}

func (kt *KType) applyWebform(wf *webform.Webform) error {
	if wf == nil {
		kt.webform, kt.schema = nil, nil
		return nil
	}
	schema, err := webform.Build(wf, kt.sess.Logger())
	if err != nil {
		return &apperr.ValidationError{Entity: "ktype", Field: "webform", Err: err}
	}
	kt.webform, kt.schema = wf, schema
	return nil
}

// Key implements session.Entity.
func (kt *KType) Key() string { return kt.id }

// Kind implements session.Entity.
func (kt *KType) Kind() session.Kind { return session.KindKType }

func (kt *KType) ID() string                  { return kt.id }
func (kt *KType) Name() string                { return kt.name }
func (kt *KType) Webform() *webform.Webform   { return kt.webform }
func (kt *KType) Schema() *webform.Schema     { return kt.schema }
func (kt *KType) JSONSchema() json.RawMessage { return kt.jsonSchema }
func (kt *KType) CreatedAt() string           { return kt.createdAt }
func (kt *KType) UpdatedAt() string           { return kt.updatedAt }

// SetName renames the type.
func (kt *KType) SetName(name string) error {
	prev := kt.name
	kt.name = name
	if err := kt.validate(); err != nil {
		kt.name = prev
		return err
	}
	kt.sess.Buffers().MarkUpdated(kt)
	return nil
}

// SetJSONSchema replaces the JSON schema.
func (kt *KType) SetJSONSchema(schema json.RawMessage) {
	kt.jsonSchema = schema
	kt.sess.Buffers().MarkUpdated(kt)
}

// SetWebform replaces the webform, regenerates the schema and re-validates
// the custom properties of every live kitem of this type. On failure
// nothing changes.
func (kt *KType) SetWebform(wf *webform.Webform) error {
	prevForm, prevSchema := kt.webform, kt.schema
	if err := kt.applyWebform(wf); err != nil {
		return err
	}
	items := kt.liveKItems()
	rebuilt := make([]*webform.Record, len(items))
	for i, k := range items {
		var values any
		if k.custom != nil {
			values = k.custom.Content().Flat()
		}
		rec, err := k.buildCustom(values, kt.sess.Settings().StrictValidation)
		if err != nil {
			kt.webform, kt.schema = prevForm, prevSchema
			return fmt.Errorf("knowledge: kitem %s no longer matches the webform: %w", k.id, err)
		}
		rebuilt[i] = rec
	}
	for i, k := range items {
		k.custom = rebuilt[i]
		if k.custom != nil {
			k.custom.SetOwner(k.id)
		}
		k.touch()
	}
	kt.sess.Buffers().MarkUpdated(kt)
	return nil
}

func (kt *KType) liveKItems() []*KItem {
	var out []*KItem
	for _, e := range kt.sess.Entities(session.KindKItem) {
		if k, ok := e.(*KItem); ok && k.ktype == kt {
			out = append(out, k)
		}
	}
	return out
}

// Delete stages the type for deletion.
func (kt *KType) Delete() {
	kt.sess.Buffers().MarkDeleted(kt)
	kt.sess.RemoveKType(kt.id)
}

// Descriptor returns the wire form of the type.
func (kt *KType) Descriptor() (models.KType, error) {
	out := models.KType{ID: kt.id, Name: kt.name, JSONSchema: kt.jsonSchema, CreatedAt: kt.createdAt, UpdatedAt: kt.updatedAt}
	if kt.webform != nil {
		data, err := json.Marshal(kt.webform)
		if err != nil {
			return out, fmt.Errorf("knowledge: encode webform of %s: %w", kt.id, err)
		}
		out.Webform = data
	}
	return out, nil
}

// Reload replaces the local state with m without staging anything.
func (kt *KType) Reload(m *models.KType) error {
	wf, err := webform.Parse(m.Webform)
	if err != nil {
		return fmt.Errorf("knowledge: ktype %s: %w", m.ID, err)
	}
	if err := kt.applyWebform(wf); err != nil {
		return err
	}
	kt.id, kt.name = m.ID, m.Name
	kt.jsonSchema = m.JSONSchema
	kt.createdAt, kt.updatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

// RefreshKTypes replaces the known types of sess with the backend's list.
// Live type objects are updated in place so kitems keep pointing at them;
// types with uncommitted local changes are kept as they are.
func RefreshKTypes(ctx context.Context, sess *session.Session) error {
	listed, err := sess.Backend().ListKTypes(ctx)
	if err != nil {
		return fmt.Errorf("knowledge: list ktypes: %w", err)
	}
	next := make([]session.Entity, 0, len(listed))
	for i := range listed {
		m := &listed[i]
		kt, ok := knownKType(sess, m.ID)
		if ok && sess.Buffers().IsUpdated(kt) {
			next = append(next, kt)
			continue
		}
		if !ok {
			kt = &KType{sess: sess}
		}
		if err := kt.Reload(m); err != nil {
			sess.Warn("knowledge: skipping ktype with an unusable webform",
				"ktype", m.ID, "error", err.Error())
			continue
		}
		next = append(next, kt)
	}
	sess.ReplaceKTypes(next)
	return nil
}

func knownKType(sess *session.Session, id string) (*KType, bool) {
	e, ok := sess.KType(id)
	if !ok {
		return nil, false
	}
	kt, ok := e.(*KType)
	return kt, ok
}

// LookupKType returns the known type with id, refreshing the known types
// first when it is missing or when the session always refetches.
func LookupKType(ctx context.Context, sess *session.Session, id string) (*KType, error) {
	kt, ok := knownKType(sess, id)
	if !ok || sess.Settings().AlwaysRefetchKTypes {
		if err := RefreshKTypes(ctx, sess); err != nil {
			return nil, err
		}
		kt, ok = knownKType(sess, id)
	}
	if !ok {
		return nil, invalid("ktype_id", fmt.Errorf("%w: ktype %q", apperr.ErrNotFound, id))
	}
	return kt, nil
}
