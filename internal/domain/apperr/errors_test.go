package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := StaleState("request %d changed", 7)

	assert.True(t, errors.Is(err, ErrStaleState))
	assert.False(t, errors.Is(err, ErrInvalidState))

	wrapped := fmt.Errorf("approve: %w", err)
	assert.True(t, errors.Is(wrapped, ErrStaleState))
	assert.Equal(t, KindStaleState, KindOf(wrapped))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", (&Error{Kind: KindNotFound}).Error())
	assert.Equal(t, "VALIDATION: reason is required", Validation("reason is required").Error())

	cause := errors.New("disk full")
	err := Collaborator("audit sink", cause)
	assert.Equal(t, "COLLABORATOR_FAILURE: audit sink unavailable: disk full", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrCollaboratorFailure))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
