package properties

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/starford/dsms/internal/apperr"
)

// TypeError reports a value that cannot become an item of a collection.
type TypeError struct {
	Value    any
	Accepted []string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("value %#v of type %T is not one of: %s", e.Value, e.Value, strings.Join(e.Accepted, ", "))
}

// Unwrap lets callers match type errors as validation errors.
func (e *TypeError) Unwrap() error { return apperr.ErrValidation }

func typeError(v any, accepted ...string) error {
	return &TypeError{Value: v, Accepted: accepted}
}

// decode fills dst from a raw mapping through its JSON form.
func decode(raw map[string]any, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// asMap accepts both JSON and YAML style mappings.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		return cast.ToStringMap(m), true
	}
	return nil, false
}

func result[T any](item *T, field string, err error) (*T, error) {
	if err != nil {
		return nil, apperr.Invalid(field, err)
	}
	return item, nil
}

// absoluteIRI accepts any IRI with a scheme; ontology IRIs are often not
// resolvable host names.
var absoluteIRI = validation.By(func(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return errors.New("must be an absolute IRI")
	}
	return nil
})

// Annotation is a semantic annotation of a kitem.
type Annotation struct {
	owned
	IRI       string `json:"iri" yaml:"iri"`
	Label     string `json:"label" yaml:"label"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// Validate checks the annotation fields.
func (a *Annotation) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.IRI, validation.Required, absoluteIRI),
		validation.Field(&a.Label, validation.Required),
		validation.Field(&a.Namespace, validation.Required),
	)
}

// CoerceAnnotation turns v into an Annotation.
func CoerceAnnotation(v any) (*Annotation, error) {
	var a Annotation
	switch x := v.(type) {
	case *Annotation:
		a = *x
	case Annotation:
		a = x
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.Annotation", "map[string]any")
		}
		if err := decode(m, &a); err != nil {
			return nil, err
		}
	}
	return result(&a, "annotation", a.Validate())
}

// Attachment is a file attached to a kitem. Content is only set for files
// that still need uploading.
type Attachment struct {
	owned
	Name    string `json:"name" yaml:"name"`
	Content []byte `json:"-" yaml:"-"`
}

// HasContent reports whether the attachment carries bytes to upload.
func (a *Attachment) HasContent() bool { return len(a.Content) > 0 }

func (a *Attachment) equal(other any) bool {
	o, ok := other.(*Attachment)
	return ok && a.Name == o.Name && bytes.Equal(a.Content, o.Content)
}

// CoerceAttachment turns v into an Attachment. A string naming an existing
// file is read and stored under its base name.
func CoerceAttachment(v any) (*Attachment, error) {
	var a Attachment
	switch x := v.(type) {
	case *Attachment:
		a = *x
	case Attachment:
		a = x
	case string:
		a.Name = x
		if info, err := os.Stat(x); err == nil && !info.IsDir() {
			data, err := os.ReadFile(x)
			if err != nil {
				return nil, fmt.Errorf("properties: read attachment %s: %w", x, err)
			}
			a.Name = filepath.Base(x)
			a.Content = data
		}
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.Attachment", "string", "map[string]any")
		}
		a.Name = cast.ToString(m["name"])
		switch c := m["content"].(type) {
		case []byte:
			a.Content = c
		case string:
			a.Content = []byte(c)
		}
	}
	return result(&a, "attachment", validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required),
	))
}

// AttachmentName keys attachments by name.
func AttachmentName(a *Attachment) string { return a.Name }

// Linkable is implemented by full entities that can be projected into a link.
type Linkable interface {
	ID() uuid.UUID
	Name() string
	Slug() string
	KTypeID() string
}

// LinkedKItem is a relation from the owning kitem to another one.
type LinkedKItem struct {
	owned
	ID                 uuid.UUID `json:"id" yaml:"id"`
	Name               string    `json:"name,omitempty" yaml:"name,omitempty"`
	Slug               string    `json:"slug,omitempty" yaml:"slug,omitempty"`
	KTypeID            string    `json:"ktype_id,omitempty" yaml:"ktype_id,omitempty"`
	Label              string    `json:"label,omitempty" yaml:"label,omitempty"`
	IRI                string    `json:"iri,omitempty" yaml:"iri,omitempty"`
	IsIncoming         bool      `json:"is_incoming" yaml:"is_incoming"`
	FromCustomProperty bool      `json:"from_custom_property,omitempty" yaml:"from_custom_property,omitempty"`
}

// CoerceLinkedKItem turns v into a LinkedKItem.
func CoerceLinkedKItem(v any) (*LinkedKItem, error) {
	var l LinkedKItem
	switch x := v.(type) {
	case *LinkedKItem:
		l = *x
	case LinkedKItem:
		l = x
	case Linkable:
		l = LinkedKItem{ID: x.ID(), Name: x.Name(), Slug: x.Slug(), KTypeID: x.KTypeID()}
	case uuid.UUID:
		l.ID = x
	case string:
		id, err := uuid.Parse(x)
		if err != nil {
			return nil, apperr.Invalidf("linked kitem", "%q is not a kitem id", x)
		}
		l.ID = id
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.LinkedKItem", "properties.Linkable", "uuid.UUID", "string", "map[string]any")
		}
		if err := decode(m, &l); err != nil {
			return nil, err
		}
	}
	if l.ID == uuid.Nil {
		return nil, apperr.Invalidf("linked kitem", "id is required")
	}
	return &l, nil
}

// Affiliation is an organisation the kitem belongs to.
type Affiliation struct {
	owned
	Name string `json:"name" yaml:"name"`
}

// CoerceAffiliation turns v into an Affiliation.
func CoerceAffiliation(v any) (*Affiliation, error) {
	var a Affiliation
	switch x := v.(type) {
	case *Affiliation:
		a = *x
	case Affiliation:
		a = x
	case string:
		a.Name = x
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.Affiliation", "string", "map[string]any")
		}
		a.Name = cast.ToString(m["name"])
	}
	return result(&a, "affiliation", validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required),
	))
}

// Author is a user credited on the kitem.
type Author struct {
	owned
	UserID string `json:"user_id" yaml:"user_id"`
}

// CoerceAuthor turns v into an Author.
func CoerceAuthor(v any) (*Author, error) {
	var a Author
	switch x := v.(type) {
	case *Author:
		a = *x
	case Author:
		a = x
	case string:
		a.UserID = x
	case uuid.UUID:
		a.UserID = x.String()
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.Author", "string", "uuid.UUID", "map[string]any")
		}
		a.UserID = cast.ToString(m["user_id"])
	}
	return result(&a, "author", validation.ValidateStruct(&a,
		validation.Field(&a.UserID, validation.Required),
	))
}

// Contact is a point of contact for the kitem.
type Contact struct {
	owned
	Name   string `json:"name" yaml:"name"`
	Email  string `json:"email" yaml:"email"`
	UserID string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// CoerceContact turns v into a Contact.
func CoerceContact(v any) (*Contact, error) {
	var c Contact
	switch x := v.(type) {
	case *Contact:
		c = *x
	case Contact:
		c = x
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.Contact", "map[string]any")
		}
		c.Name = cast.ToString(m["name"])
		c.Email = cast.ToString(m["email"])
		c.UserID = cast.ToString(m["user_id"])
	}
	return result(&c, "contact", validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Email, validation.Required, is.EmailFormat),
	))
}

// ExternalLink is a labelled URL.
type ExternalLink struct {
	owned
	Label string `json:"label" yaml:"label"`
	URL   string `json:"url" yaml:"url"`
}

// CoerceExternalLink turns v into an ExternalLink.
func CoerceExternalLink(v any) (*ExternalLink, error) {
	var l ExternalLink
	switch x := v.(type) {
	case *ExternalLink:
		l = *x
	case ExternalLink:
		l = x
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.ExternalLink", "map[string]any")
		}
		l.Label = cast.ToString(m["label"])
		l.URL = cast.ToString(m["url"])
	}
	return result(&l, "external link", validation.ValidateStruct(&l,
		validation.Field(&l.Label, validation.Required),
		validation.Field(&l.URL, validation.Required, is.URL),
	))
}

// AppProperties configure when an app runs automatically.
type AppProperties struct {
	TriggerUponUpload               bool     `json:"triggerUponUpload" yaml:"triggerUponUpload"`
	TriggerUponUploadFileExtensions []string `json:"triggerUponUploadFileExtensions,omitempty" yaml:"triggerUponUploadFileExtensions,omitempty"`
}

// App is a workflow attached to a kitem.
type App struct {
	owned
	KItemAppID           *int           `json:"kitem_app_id,omitempty" yaml:"kitem_app_id,omitempty"`
	Executable           string         `json:"executable" yaml:"executable"`
	Title                string         `json:"title" yaml:"title"`
	Description          string         `json:"description,omitempty" yaml:"description,omitempty"`
	Tags                 map[string]any `json:"tags,omitempty" yaml:"tags,omitempty"`
	AdditionalProperties *AppProperties `json:"additional_properties,omitempty" yaml:"additional_properties,omitempty"`
}

// CoerceApp turns v into an App.
func CoerceApp(v any) (*App, error) {
	var a App
	switch x := v.(type) {
	case *App:
		a = *x
	case App:
		a = x
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.App", "map[string]any")
		}
		if err := decode(m, &a); err != nil {
			return nil, err
		}
	}
	err := validation.ValidateStruct(&a,
		validation.Field(&a.Executable, validation.Required),
		validation.Field(&a.Title, validation.Required),
	)
	if err == nil && a.AdditionalProperties != nil {
		for _, ext := range a.AdditionalProperties.TriggerUponUploadFileExtensions {
			if !strings.HasPrefix(ext, ".") {
				err = errors.New("file extensions must start with a dot")
				break
			}
		}
	}
	return result(&a, "app", err)
}

// UserGroup grants a group access to the kitem.
type UserGroup struct {
	owned
	Name    string `json:"name" yaml:"name"`
	GroupID string `json:"group_id" yaml:"group_id"`
}

// CoerceUserGroup turns v into a UserGroup.
func CoerceUserGroup(v any) (*UserGroup, error) {
	var g UserGroup
	switch x := v.(type) {
	case *UserGroup:
		g = *x
	case UserGroup:
		g = x
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, typeError(v, "*properties.UserGroup", "map[string]any")
		}
		g.Name = cast.ToString(m["name"])
		g.GroupID = cast.ToString(m["group_id"])
	}
	return result(&g, "user group", validation.ValidateStruct(&g,
		validation.Field(&g.Name, validation.Required),
		validation.Field(&g.GroupID, validation.Required),
	))
}
