package properties

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/apperr"
)

// Summary is the free-text description of a kitem.
type Summary struct {
	text    string
	owner   uuid.UUID
	tracker Tracker
}

// NewSummary returns a summary bound to tracker.
func NewSummary(text string, tracker Tracker) *Summary {
	return &Summary{text: text, tracker: tracker}
}

// Text returns the summary text.
func (s *Summary) Text() string { return s.text }

// SetText replaces the text and marks the owner when it changed.
func (s *Summary) SetText(text string) {
	if s.text == text {
		return
	}
	s.text = text
	if s.tracker != nil && s.owner != uuid.Nil {
		s.tracker.MarkUpdated(s.owner)
	}
}

// Load replaces the text without marking the owner.
func (s *Summary) Load(text string) { s.text = text }

// Owner returns the owning kitem id.
func (s *Summary) Owner() uuid.UUID { return s.owner }

// SetOwner stamps the owning kitem id.
func (s *Summary) SetOwner(id uuid.UUID) { s.owner = id }

// MarshalJSON encodes the summary as a plain string.
func (s *Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.text)
}

// CoerceSummaryText accepts a string, a *Summary or a {"text": ...} mapping.
func CoerceSummaryText(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case *Summary:
		return x.text, nil
	default:
		if m, ok := asMap(v); ok {
			if text, ok := m["text"].(string); ok {
				return text, nil
			}
		}
		return "", typeError(v, "string", "*properties.Summary", "map[string]any")
	}
}

// Avatar is the image shown for a kitem: an image file, a generated QR code
// of the kitem URL, or nothing.
type Avatar struct {
	file      string
	includeQR bool
	pending   bool
	owner     uuid.UUID
	tracker   Tracker
}

// NewAvatar returns an empty avatar bound to tracker.
func NewAvatar(tracker Tracker) *Avatar {
	return &Avatar{tracker: tracker}
}

// File returns the image path, if any.
func (a *Avatar) File() string { return a.file }

// IncludeQR reports whether a QR code is generated.
func (a *Avatar) IncludeQR() bool { return a.includeQR }

// Pending reports whether the avatar changed since the last commit.
func (a *Avatar) Pending() bool { return a.pending }

// Committed clears the pending flag.
func (a *Avatar) Committed() { a.pending = false }

// SetFile sets an image file as avatar.
func (a *Avatar) SetFile(path string) error {
	if path != "" {
		if a.includeQR {
			return apperr.Invalidf("avatar", "a file and a QR code cannot be combined")
		}
		if _, err := os.Stat(path); err != nil {
			return apperr.Invalid("avatar", fmt.Errorf("image file: %w", err))
		}
	}
	a.file = path
	a.changed()
	return nil
}

// SetIncludeQR switches QR code generation.
func (a *Avatar) SetIncludeQR(on bool) error {
	if on && a.file != "" {
		return apperr.Invalidf("avatar", "a file and a QR code cannot be combined")
	}
	a.includeQR = on
	a.changed()
	return nil
}

// Owner returns the owning kitem id.
func (a *Avatar) Owner() uuid.UUID { return a.owner }

// SetOwner stamps the owning kitem id.
func (a *Avatar) SetOwner(id uuid.UUID) { a.owner = id }

func (a *Avatar) changed() {
	a.pending = a.file != "" || a.includeQR
	if a.tracker != nil && a.owner != uuid.Nil {
		a.tracker.MarkUpdated(a.owner)
	}
}

// MarshalJSON encodes the avatar settings.
func (a *Avatar) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		File      string `json:"file,omitempty"`
		IncludeQR bool   `json:"include_qr"`
	}{a.file, a.includeQR})
}
