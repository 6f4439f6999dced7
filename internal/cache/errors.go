// internal/cache/errors.go
package cache

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("cache conflict")

// ConflictError reports that the live SUL answered a cached path differently. It carries
// everything needed to reproduce the disagreement.
type ConflictError struct {
	// Input is the query prefix up to and including the disagreeing step.
	Input    []alphabet.Word
	Expected response.SulResponse
	Observed response.SulResponse
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s after [%s]: cached %s, observed %s",
		ErrConflict, alphabet.Sequence(e.Input), e.Expected, e.Observed)
}

// Is lets errors.Is match ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
