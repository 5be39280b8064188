package knowledge

import (
	"errors"

	"github.com/starford/dsms/internal/apperr"
)

var (
	errRequired = errors.New("is required")
	errSelfLink = errors.New("a kitem cannot link to itself")
)

func invalid(field string, err error) error {
	return &apperr.ValidationError{Entity: "kitem", Field: field, Err: err}
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
