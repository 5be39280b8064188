// Package knowledge holds the entities a DSMS session manages: knowledge
// items, knowledge types and app configurations.
package knowledge

import (
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/properties"
	"github.com/starford/dsms/internal/session"
	"github.com/starford/dsms/internal/webform"
)

// KItem is a knowledge item. All mutations go through methods so the
// session sees every change.
type KItem struct {
	sess *session.Session

	id           uuid.UUID
	name         string
	slug         string
	ktypeID      string
	ktype        *KType
	createdAt    time.Time
	updatedAt    time.Time
	avatarExists bool

	annotations   *properties.List[*properties.Annotation]
	attachments   *properties.List[*properties.Attachment]
	linkedKItems  *properties.List[*properties.LinkedKItem]
	affiliations  *properties.List[*properties.Affiliation]
	authors       *properties.List[*properties.Author]
	contacts      *properties.List[*properties.Contact]
	externalLinks *properties.List[*properties.ExternalLink]
	apps          *properties.List[*properties.App]
	userGroups    *properties.List[*properties.UserGroup]
	summary       *properties.Summary
	avatar        *properties.Avatar
	custom        *webform.Record

	table        *dataframe.Table
	tableTouched bool
	tableLoaded  bool
}

func newKItem(sess *session.Session) *KItem {
	k := &KItem{sess: sess}
	k.annotations = properties.NewList(properties.CoerceAnnotation, properties.WithTracker[*properties.Annotation](sess))
	k.attachments = properties.NewList(properties.CoerceAttachment,
		properties.WithTracker[*properties.Attachment](sess),
		properties.WithIdentity(properties.AttachmentName))
	k.linkedKItems = properties.NewList(properties.CoerceLinkedKItem,
		properties.WithTracker[*properties.LinkedKItem](sess),
		properties.WithValidator(k.checkLink))
	k.affiliations = properties.NewList(properties.CoerceAffiliation, properties.WithTracker[*properties.Affiliation](sess))
	k.authors = properties.NewList(properties.CoerceAuthor, properties.WithTracker[*properties.Author](sess))
	k.contacts = properties.NewList(properties.CoerceContact, properties.WithTracker[*properties.Contact](sess))
	k.externalLinks = properties.NewList(properties.CoerceExternalLink, properties.WithTracker[*properties.ExternalLink](sess))
	k.apps = properties.NewList(properties.CoerceApp, properties.WithTracker[*properties.App](sess))
	k.userGroups = properties.NewList(properties.CoerceUserGroup, properties.WithTracker[*properties.UserGroup](sess))
	k.summary = properties.NewSummary("", sess)
	k.avatar = properties.NewAvatar(sess)
	return k
}

func (k *KItem) checkLink(l *properties.LinkedKItem) error {
	if k.id != uuid.Nil && l.ID == k.id {
		return invalid("linked_kitems", errSelfLink)
	}
	return nil
}

// stampOwner hands the kitem id to every nested value.
func (k *KItem) stampOwner() {
	k.annotations.SetOwner(k.id)
	k.attachments.SetOwner(k.id)
	k.linkedKItems.SetOwner(k.id)
	k.affiliations.SetOwner(k.id)
	k.authors.SetOwner(k.id)
	k.contacts.SetOwner(k.id)
	k.externalLinks.SetOwner(k.id)
	k.apps.SetOwner(k.id)
	k.userGroups.SetOwner(k.id)
	k.summary.SetOwner(k.id)
	k.avatar.SetOwner(k.id)
	if k.custom != nil {
		k.custom.SetOwner(k.id)
	}
}

// Key implements session.Entity.
func (k *KItem) Key() string { return k.id.String() }

// Kind implements session.Entity.
func (k *KItem) Kind() session.Kind { return session.KindKItem }

func (k *KItem) ID() uuid.UUID        { return k.id }
func (k *KItem) Name() string         { return k.name }
func (k *KItem) Slug() string         { return k.slug }
func (k *KItem) KTypeID() string      { return k.ktypeID }
func (k *KItem) KType() *KType        { return k.ktype }
func (k *KItem) CreatedAt() time.Time { return k.createdAt }
func (k *KItem) UpdatedAt() time.Time { return k.updatedAt }
func (k *KItem) AvatarExists() bool   { return k.avatarExists }

func (k *KItem) Annotations() *properties.List[*properties.Annotation]     { return k.annotations }
func (k *KItem) Attachments() *properties.List[*properties.Attachment]     { return k.attachments }
func (k *KItem) LinkedKItems() *properties.List[*properties.LinkedKItem]   { return k.linkedKItems }
func (k *KItem) Affiliations() *properties.List[*properties.Affiliation]   { return k.affiliations }
func (k *KItem) Authors() *properties.List[*properties.Author]             { return k.authors }
func (k *KItem) Contacts() *properties.List[*properties.Contact]           { return k.contacts }
func (k *KItem) ExternalLinks() *properties.List[*properties.ExternalLink] { return k.externalLinks }
func (k *KItem) Apps() *properties.List[*properties.App]                   { return k.apps }
func (k *KItem) UserGroups() *properties.List[*properties.UserGroup]       { return k.userGroups }
func (k *KItem) Summary() *properties.Summary                              { return k.summary }
func (k *KItem) Avatar() *properties.Avatar                                { return k.avatar }

// CustomProperties returns the custom property record, or nil when the
// kitem has none.
func (k *KItem) CustomProperties() *webform.Record { return k.custom }

// Session returns the session the kitem lives in.
func (k *KItem) Session() *session.Session { return k.sess }

// URL is the address of the kitem in the DSMS frontend.
func (k *KItem) URL() string {
	u, err := url.JoinPath(k.sess.Settings().HostURL, "knowledge", k.ktypeID, k.slug)
	if err != nil {
		return ""
	}
	return u
}

func (k *KItem) touch() {
	k.sess.Buffers().MarkUpdated(k)
}

// SetName renames the kitem. The slug is left alone.
func (k *KItem) SetName(name string) error {
	if name == "" {
		return invalid("name", errRequired)
	}
	if name == k.name {
		return nil
	}
	k.name = name
	k.touch()
	return nil
}

// SetSummary replaces the summary text.
func (k *KItem) SetSummary(text string) {
	k.summary.SetText(text)
}

// SetCustomProperties replaces the custom properties wholesale. v may be a
// *webform.Record, a sectioned mapping or a flat label-to-value mapping.
func (k *KItem) SetCustomProperties(v any) error {
	rec, err := k.buildCustom(v, k.sess.Settings().StrictValidation)
	if err != nil {
		return err
	}
	k.custom = rec
	if rec != nil {
		rec.SetOwner(k.id)
	}
	k.touch()
	return nil
}

// SetDataframe replaces the tabular payload. A nil or empty table removes
// it on the next commit.
func (k *KItem) SetDataframe(t *dataframe.Table) {
	k.table = t
	k.tableTouched = true
	k.tableLoaded = true
	k.touch()
}

// PendingDataframe reports the locally set table and whether it was set
// since the last commit.
func (k *KItem) PendingDataframe() (*dataframe.Table, bool) {
	return k.table, k.tableTouched
}

// Delete stages the kitem for deletion and drops it from the registry.
func (k *KItem) Delete() {
	k.sess.Buffers().MarkDeleted(k)
	k.sess.Forget(k)
}

var _ properties.Linkable = (*KItem)(nil)
