package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/knowledge"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/session"
)

// Committer flushes the buffers of one session.
type Committer struct {
	sess    *session.Session
	workers int
	logger  *slog.Logger
}

// Option configures a Committer.
type Option func(*Committer)

// WithWorkers sets how many kitems of the updated phase are synchronized
// at once. Values below one mean one.
func WithWorkers(n int) Option {
	return func(c *Committer) { c.workers = n }
}

// New creates a committer for sess.
func New(sess *session.Session, opts ...Option) *Committer {
	c := &Committer{sess: sess, workers: sess.Settings().CommitWorkers, logger: sess.Logger()}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers < 1 {
		c.workers = 1
	}
	return c
}

// Commit flushes the buffers of sess with the session's settings.
func Commit(ctx context.Context, sess *session.Session) error {
	return New(sess).Commit(ctx)
}

// failures collects per-entity errors and the entities to stage again.
type failures struct {
	mu     sync.Mutex
	errs   []error
	retry  session.Snapshot
	failed map[string]bool
}

func (f *failures) add(e session.Entity, phase string, err error, retry func(*session.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, fmt.Errorf("commit: %s %s %s: %w", phase, e.Kind(), e.Key(), err))
	retry(&f.retry)
	f.failed[string(e.Kind())+":"+e.Key()] = true
}

func (f *failures) has(e session.Entity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[string(e.Kind())+":"+e.Key()]
}

// Commit drains the buffers and synchronizes created, then updated, then
// deleted entities. A failing entity does not stop the others: its errors
// are joined into the result and it is staged again for the next commit.
func (c *Committer) Commit(ctx context.Context) error {
	if !c.sess.Active() {
		return apperr.ErrSessionReplaced
	}
	release := c.sess.BeginCommit()
	defer release()

	snap := c.sess.Buffers().DrainAndClear()
	if len(snap.Created) == 0 && len(snap.Deleted) == 0 {
		c.sess.Warn("commit: nothing staged for creation or deletion")
	}
	c.logger.Debug("commit: start",
		slog.Int("created", len(snap.Created)),
		slog.Int("updated", len(snap.Updated)),
		slog.Int("deleted", len(snap.Deleted)))

	f := &failures{failed: make(map[string]bool)}
	typesChanged := false

	for _, e := range byKind(snap.Created, session.KindKType, session.KindAppConfig, session.KindKItem) {
		if err := c.create(ctx, e); err != nil {
			f.add(e, "create", err, func(s *session.Snapshot) {
				s.Created = append(s.Created, e)
				if contains(snap.Updated, e) {
					s.Updated = append(s.Updated, e)
				}
			})
			continue
		}
		typesChanged = typesChanged || e.Kind() == session.KindKType
	}

	var items []*knowledge.KItem
	for _, e := range byKind(snap.Updated, session.KindKType, session.KindAppConfig, session.KindKItem) {
		if f.has(e) {
			continue
		}
		if k, ok := e.(*knowledge.KItem); ok {
			items = append(items, k)
			continue
		}
		if err := c.update(ctx, e); err != nil {
			f.add(e, "update", err, func(s *session.Snapshot) { s.Updated = append(s.Updated, e) })
			continue
		}
		typesChanged = typesChanged || e.Kind() == session.KindKType
	}
	if typesChanged {
		if err := knowledge.RefreshKTypes(ctx, c.sess); err != nil {
			c.sess.Warn("commit: could not refresh knowledge types", "error", err.Error())
		}
	}

	synced := c.syncKItems(ctx, items, f)
	if c.sess.Settings().AutoRefresh {
		for _, k := range synced {
			if err := k.Refresh(ctx, true); err != nil {
				f.add(k, "refresh", err, func(*session.Snapshot) {})
			}
		}
	}

	for _, e := range byKind(snap.Deleted, session.KindKItem, session.KindKType, session.KindAppConfig) {
		if err := c.delete(ctx, e); err != nil {
			f.add(e, "delete", err, func(s *session.Snapshot) { s.Deleted = append(s.Deleted, e) })
		}
	}

	if len(f.errs) > 0 {
		c.sess.Buffers().Restore(f.retry)
		c.logger.Error("commit: finished with errors", slog.Int("failed", len(f.errs)))
		return errors.Join(f.errs...)
	}
	c.logger.Info("commit: done",
		slog.Int("created", len(snap.Created)),
		slog.Int("updated", len(snap.Updated)),
		slog.Int("deleted", len(snap.Deleted)))
	return nil
}

// syncKItems pushes the updated kitems, at most c.workers at a time, and
// returns those that went through.
func (c *Committer) syncKItems(ctx context.Context, items []*knowledge.KItem, f *failures) []*knowledge.KItem {
	done := make([]bool, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, k := range items {
		g.Go(func() error {
			ok, err := c.updateKItem(gctx, k)
			if err != nil {
				f.add(k, "update", err, func(s *session.Snapshot) { s.Updated = append(s.Updated, k) })
				return nil
			}
			done[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	var out []*knowledge.KItem
	for i, k := range items {
		if done[i] {
			out = append(out, k)
		}
	}
	return out
}

func (c *Committer) create(ctx context.Context, e session.Entity) error {
	b := c.sess.Backend()
	switch v := e.(type) {
	case *knowledge.KType:
		_, err := b.GetKType(ctx, v.ID())
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return b.CreateKType(ctx, models.KType{ID: v.ID(), Name: v.Name()})
	case *knowledge.AppConfig:
		spec, err := v.SpecYAML()
		if err != nil {
			return err
		}
		return b.PutAppSpec(ctx, v.Name(), spec, false)
	case *knowledge.KItem:
		exists, err := b.KItemExists(ctx, v.ID())
		if err != nil || exists {
			return err
		}
		return b.CreateKItem(ctx, models.KItemCreate{
			Name:    v.Name(),
			ID:      v.ID().String(),
			Slug:    v.Slug(),
			KTypeID: v.KTypeID(),
		})
	default:
		return fmt.Errorf("cannot create %T", e)
	}
}

func (c *Committer) update(ctx context.Context, e session.Entity) error {
	b := c.sess.Backend()
	switch v := e.(type) {
	case *knowledge.KType:
		d, err := v.Descriptor()
		if err != nil {
			return err
		}
		return b.UpdateKType(ctx, d)
	case *knowledge.AppConfig:
		spec, err := v.SpecYAML()
		if err != nil {
			return err
		}
		return b.PutAppSpec(ctx, v.Name(), spec, true)
	default:
		return fmt.Errorf("cannot update %T", e)
	}
}

// updateKItem runs the per-kitem update sequence: fetch the stored state,
// sync the table, send fields and fragments, then attachments and avatar.
// It reports false when the kitem is gone from the backend.
func (c *Committer) updateKItem(ctx context.Context, k *knowledge.KItem) (bool, error) {
	b := c.sess.Backend()
	prev, err := b.GetKItem(ctx, k.ID())
	if errors.Is(err, apperr.ErrNotFound) {
		c.sess.Warn("commit: updated kitem no longer exists remotely, skipping", "kitem", k.ID().String())
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if t, touched := k.PendingDataframe(); touched {
		if t != nil && !t.Empty() {
			err = b.PutTable(ctx, k.ID(), t)
		} else {
			err = ignoreNotFound(b.DeleteTable(ctx, k.ID()))
		}
		if err != nil {
			return false, fmt.Errorf("dataframe: %w", err)
		}
		k.DataframeCommitted()
	}

	payload, err := k.UpdateFields()
	if err != nil {
		return false, err
	}
	fragments, err := Fragments(prev, k)
	if err != nil {
		return false, err
	}
	for name, v := range fragments {
		payload[name] = v
	}
	if err := b.UpdateKItem(ctx, k.ID(), payload); err != nil {
		return false, err
	}

	upload, remove := AttachmentDiff(prev, k.Attachments().Items())
	for _, name := range remove {
		if err := ignoreNotFound(b.DeleteAttachment(ctx, k.ID(), name)); err != nil {
			return false, fmt.Errorf("attachment %q: %w", name, err)
		}
	}
	for _, a := range upload {
		if !a.HasContent() {
			c.sess.Warn("commit: attachment has no content to upload",
				"kitem", k.ID().String(), "attachment", a.Name)
			continue
		}
		if err := b.UploadAttachment(ctx, k.ID(), a.Name, a.Content); err != nil {
			return false, fmt.Errorf("attachment %q: %w", a.Name, err)
		}
		a.Content = nil
	}

	if k.Avatar().Pending() {
		img, err := k.AvatarImage()
		if err != nil {
			return false, err
		}
		if img != nil {
			if k.AvatarExists() {
				if err := ignoreNotFound(b.DeleteAvatar(ctx, k.ID())); err != nil {
					return false, fmt.Errorf("avatar: %w", err)
				}
			}
			if err := b.PutAvatar(ctx, k.ID(), img); err != nil {
				return false, fmt.Errorf("avatar: %w", err)
			}
			k.AvatarCommitted()
		}
	}
	return true, nil
}

func (c *Committer) delete(ctx context.Context, e session.Entity) error {
	b := c.sess.Backend()
	switch v := e.(type) {
	case *knowledge.KItem:
		exists, err := b.KItemExists(ctx, v.ID())
		if err != nil || !exists {
			return err
		}
		if err := ignoreNotFound(b.DeleteTable(ctx, v.ID())); err != nil {
			return fmt.Errorf("dataframe: %w", err)
		}
		return b.DeleteKItem(ctx, v.ID())
	case *knowledge.KType:
		return ignoreNotFound(b.DeleteKType(ctx, v.ID()))
	case *knowledge.AppConfig:
		return ignoreNotFound(b.DeleteAppSpec(ctx, v.Name()))
	default:
		return fmt.Errorf("cannot delete %T", e)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

// byKind orders entities by kind, keeping the buffer order within a kind.
func byKind(entities []session.Entity, order ...session.Kind) []session.Entity {
	out := make([]session.Entity, 0, len(entities))
	for _, kind := range order {
		for _, e := range entities {
			if e.Kind() == kind {
				out = append(out, e)
			}
		}
	}
	return out
}

func contains(entities []session.Entity, e session.Entity) bool {
	for _, x := range entities {
		if x.Kind() == e.Kind() && x.Key() == e.Key() {
			return true
		}
	}
	return false
}
