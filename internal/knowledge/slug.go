package knowledge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/session"
)

// MinSlugLength is the shortest slug the backend accepts.
const MinSlugLength = 4

var (
	slugStrip = regexp.MustCompile(`[^\p{L}\p{N}_\s\-]`)
	slugSpace = regexp.MustCompile(`\s+`)
)

// Slugify drops everything but letters, digits, underscores and dashes,
// removes whitespace and lowercases the rest.
func Slugify(s string) string {
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "")
	return strings.ToLower(s)
}

// DeriveSlug builds the slug used when none is given. With individual set
// the first segment of the id is appended.
func DeriveSlug(name string, id uuid.UUID, individual bool) string {
	slug := Slugify(name)
	if individual {
		slug += "-" + strings.SplitN(id.String(), "-", 2)[0]
	}
	return slug
}

// ValidateSlug checks that slug is already in slug form and long enough.
func ValidateSlug(slug string) error {
	normalized := Slugify(slug)
	if utf8.RuneCountInString(normalized) < MinSlugLength {
		return invalid("slug", fmt.Errorf("must be at least %d characters long", MinSlugLength))
	}
	if normalized != slug {
		return invalid("slug", fmt.Errorf("%q is not a valid slug, a valid variation would be %q", slug, normalized))
	}
	return nil
}

// resolveSlug derives or checks the slug and, for kitems the backend does
// not know yet, makes sure no other kitem of the type uses it.
func resolveSlug(ctx context.Context, sess *session.Session, given, name string, id uuid.UUID, ktypeID string, exists bool) (string, error) {
	slug := given
	if slug == "" {
		if utf8.RuneCountInString(Slugify(name)) < MinSlugLength {
			return "", invalid("slug", fmt.Errorf("name %q yields a slug shorter than %d characters", name, MinSlugLength))
		}
		slug = DeriveSlug(name, id, sess.Settings().IndividualSlugs)
	}
	if err := ValidateSlug(slug); err != nil {
		return "", err
	}
	if exists {
		return slug, nil
	}
	available, err := sess.Backend().SlugAvailable(ctx, ktypeID, slug)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			return "", fmt.Errorf("knowledge: check slug %q: access token expired: %w", slug, err)
		}
		return "", fmt.Errorf("knowledge: check slug %q: %w", slug, err)
	}
	if !available {
		return "", invalid("slug", fmt.Errorf("%w: %q is already taken", apperr.ErrConflict, slug))
	}
	return slug, nil
}
