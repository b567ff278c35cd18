package storyservice

import (
	"strings"

	"github.com/starford/storyloom/internal/apperr"
	"github.com/starford/storyloom/internal/patch"
)

// ValidationError carries every issue found in a rejected patch.
// errors.Is(err, apperr.ErrInvalidPatch) reports true for it.
type ValidationError struct {
	Issues []patch.Issue
}

func (e *ValidationError) Error() string {
	return "invalid patch: " + strings.Join(e.Messages(), "; ")
}

// Is matches apperr.ErrInvalidPatch.
func (e *ValidationError) Is(target error) bool {
	return target == apperr.ErrInvalidPatch
}

// Messages returns the issue messages in op order.
func (e *ValidationError) Messages() []string {
	return patch.Result{Errors: e.Issues}.Messages()
}
