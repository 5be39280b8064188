package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/properties"
	"github.com/starford/dsms/internal/session"
)

// Input describes a kitem to construct. Collection fields accept raw
// mappings, typed property items or, for links, other kitems.
type Input struct {
	ID      uuid.UUID
	Name    string
	Slug    string
	KTypeID string

	Summary          any
	Annotations      []any
	Attachments      []any
	LinkedKItems     []any
	Affiliations     []any
	Authors          []any
	Contacts         []any
	ExternalLinks    []any
	Apps             []any
	UserGroups       []any
	CustomProperties any
	Dataframe        *dataframe.Table

	AvatarFile      string
	AvatarIncludeQR bool

	CreatedAt string
	UpdatedAt string
}

// New validates in and registers the resulting kitem with sess. A kitem
// the backend does not know yet is staged as created and updated.
//
// Fields are validated in dependency order: name, id, type id, slug, the
// collections, timestamps, the type itself and finally the custom
// properties against the type's schema. Nothing is registered or buffered
// when any step fails.
func New(ctx context.Context, sess *session.Session, in Input) (*KItem, error) {
	k := newKItem(sess)

	if in.Name == "" {
		return nil, invalid("name", errRequired)
	}
	k.name = in.Name

	k.id = in.ID
	if k.id == uuid.Nil {
		k.id = uuid.New()
	}

	if in.KTypeID == "" {
		return nil, invalid("ktype_id", errRequired)
	}
	kt, err := LookupKType(ctx, sess, in.KTypeID)
	if err != nil {
		return nil, err
	}
	k.ktypeID = kt.ID()

	exists, err := sess.Backend().KItemExists(ctx, k.id)
	if err != nil {
		return nil, fmt.Errorf("knowledge: check kitem %s: %w", k.id, err)
	}

	k.slug, err = resolveSlug(ctx, sess, in.Slug, k.name, k.id, k.ktypeID, exists)
	if err != nil {
		return nil, err
	}

	if err := k.loadCollections(in); err != nil {
		return nil, err
	}

	if k.createdAt, err = parseTime(sess, "created_at", in.CreatedAt); err != nil {
		return nil, err
	}
	if k.updatedAt, err = parseTime(sess, "updated_at", in.UpdatedAt); err != nil {
		return nil, err
	}

	k.ktype = kt

	if k.custom, err = k.buildCustom(in.CustomProperties, sess.Settings().StrictValidation); err != nil {
		return nil, err
	}

	if in.Dataframe != nil {
		k.table = in.Dataframe
		k.tableTouched = true
		k.tableLoaded = true
	}

	k.stampOwner()
	sess.Register(k)
	if !exists {
		sess.Buffers().MarkCreated(k)
		sess.Buffers().MarkUpdated(k)
	}
	return k, nil
}

func (k *KItem) loadCollections(in Input) error {
	text, err := properties.CoerceSummaryText(in.Summary)
	if err != nil {
		return err
	}
	k.summary.Load(text)

	loads := []struct {
		field string
		load  func([]any) error
		vs    []any
	}{
		{"annotations", k.annotations.Load, in.Annotations},
		{"attachments", k.attachments.Load, in.Attachments},
		{"linked_kitems", k.linkedKItems.Load, in.LinkedKItems},
		{"affiliations", k.affiliations.Load, in.Affiliations},
		{"authors", k.authors.Load, in.Authors},
		{"contacts", k.contacts.Load, in.Contacts},
		{"external_links", k.externalLinks.Load, in.ExternalLinks},
		{"kitem_apps", k.apps.Load, in.Apps},
		{"user_groups", k.userGroups.Load, in.UserGroups},
	}
	for _, l := range loads {
		if err := l.load(l.vs); err != nil {
			return fmt.Errorf("knowledge: %s: %w", l.field, err)
		}
	}

	if in.AvatarFile != "" {
		if err := k.avatar.SetFile(in.AvatarFile); err != nil {
			return err
		}
	}
	if in.AvatarIncludeQR {
		if err := k.avatar.SetIncludeQR(true); err != nil {
			return err
		}
	}
	return nil
}

func parseTime(sess *session.Session, field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(sess.Settings().DatetimeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, invalid(field, fmt.Errorf("%q does not match %q", value, sess.Settings().DatetimeLayout))
	}
	return t, nil
}
