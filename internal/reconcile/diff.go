// Package reconcile pushes the staged changes of a session to the backend
// with as few requests as the collection diffs allow.
package reconcile

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jinzhu/inflection"
	"github.com/spf13/cast"

	"github.com/starford/dsms/internal/knowledge"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/properties"
)

// Diff returns the entries of next whose key is absent from prev and the
// entries of prev whose key is absent from next. Both keep input order and
// repeated keys collapse into their first occurrence.
func Diff[T any](prev, next []T, key func(T) string) (added, removed []T) {
	prevKeys := keySet(prev, key)
	nextKeys := keySet(next, key)
	added = pick(next, key, func(k string) bool { return !prevKeys[k] })
	removed = pick(prev, key, func(k string) bool { return !nextKeys[k] })
	return added, removed
}

func keySet[T any](items []T, key func(T) string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[key(it)] = true
	}
	return out
}

func pick[T any](items []T, key func(T) string, keep func(string) bool) []T {
	out := make([]T, 0)
	seen := make(map[string]bool)
	for _, it := range items {
		k := key(it)
		if seen[k] || !keep(k) {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// FragmentName builds an update payload key such as "kitem_apps_to_update".
func FragmentName(singular, verb string) string {
	return inflection.Plural(singular) + "_to_" + verb
}

type collection struct {
	singular   string
	add        string
	remove     string
	identities []string
}

var (
	annotations = collection{singular: "annotation", add: "link", remove: "unlink"}
	userGroups  = collection{singular: "user_group", add: "add", remove: "remove"}
	links       = collection{singular: "kitem", add: "link", remove: "unlink"}
	apps        = collection{singular: "kitem_app", add: "update", remove: "remove", identities: models.AppIdentityFields}
)

// Fragments computes the link/unlink, add/remove and update/remove payload
// fragments of k against its last known remote state.
func Fragments(prev *models.KItem, k *knowledge.KItem) (map[string]any, error) {
	out := make(map[string]any, 8)

	objectLists := []struct {
		c    collection
		prev []models.Object
		next interface {
			Objects() ([]map[string]any, error)
		}
		coerce func(models.Object) (models.Object, error)
	}{
		{annotations, prev.Annotations, k.Annotations(), through(properties.CoerceAnnotation)},
		{userGroups, prev.UserGroups, k.UserGroups(), through(properties.CoerceUserGroup)},
		{apps, prev.KItemApps, k.Apps(), through(properties.CoerceApp)},
	}
	for _, l := range objectLists {
		next, err := l.next.Objects()
		if err != nil {
			return nil, fmt.Errorf("reconcile: encode %s: %w", inflection.Plural(l.c.singular), err)
		}
		nextObjs := make([]models.Object, len(next))
		for i, o := range next {
			nextObjs[i] = strip(o, l.c.identities)
		}
		prevObjs := make([]models.Object, len(l.prev))
		for i, o := range l.prev {
			prevObjs[i] = strip(normalize(o, l.coerce), l.c.identities)
		}
		added, removed := Diff(prevObjs, nextObjs, canonical)
		out[FragmentName(l.c.singular, l.c.add)] = added
		out[FragmentName(l.c.singular, l.c.remove)] = removed
	}

	var prevIDs, nextIDs []string
	for _, o := range prev.LinkedKItems {
		if cast.ToBool(o["is_incoming"]) {
			continue
		}
		prevIDs = append(prevIDs, cast.ToString(o["id"]))
	}
	for _, l := range k.LinkedKItems().Items() {
		if l.IsIncoming {
			continue
		}
		nextIDs = append(nextIDs, l.ID.String())
	}
	linked, unlinked := Diff(prevIDs, nextIDs, func(s string) string { return s })
	out[FragmentName(links.singular, links.add)] = idObjects(linked)
	out[FragmentName(links.singular, links.remove)] = idObjects(unlinked)
	return out, nil
}

// through re-encodes a stored object via the client-side item type so both
// sides of a diff share one serialized form.
func through[T any](coerce func(any) (T, error)) func(models.Object) (models.Object, error) {
	return func(o models.Object) (models.Object, error) {
		item, err := coerce(map[string]any(o))
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		var out models.Object
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// normalize falls back to the stored form when the backend sent something
// the client type rejects.
func normalize(o models.Object, coerce func(models.Object) (models.Object, error)) models.Object {
	if n, err := coerce(o); err == nil {
		return n
	}
	return o
}

func strip(o models.Object, fields []string) models.Object {
	if len(fields) == 0 {
		return o
	}
	out := make(models.Object, len(o))
	for k, v := range o {
		if !slices.Contains(fields, k) {
			out[k] = v
		}
	}
	return out
}

func canonical(o models.Object) string {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprint(o)
	}
	return string(data)
}

func idObjects(ids []string) []models.Object {
	out := make([]models.Object, len(ids))
	for i, id := range ids {
		out[i] = models.Object{"id": id}
	}
	return out
}

// AttachmentDiff lists the attachments to upload and the names to delete.
// An attachment is uploaded when its name is new or when it carries content.
func AttachmentDiff(prev *models.KItem, current []*properties.Attachment) (upload []*properties.Attachment, remove []string) {
	stored := make(map[string]bool)
	var storedNames []string
	for _, o := range prev.Attachments {
		name := cast.ToString(o["name"])
		if name == "" || stored[name] {
			continue
		}
		stored[name] = true
		storedNames = append(storedNames, name)
	}
	present := make(map[string]bool, len(current))
	for _, a := range current {
		present[a.Name] = true
		if !stored[a.Name] || a.HasContent() {
			upload = append(upload, a)
		}
	}
	for _, name := range storedNames {
		if !present[name] {
			remove = append(remove, name)
		}
	}
	return upload, remove
}
