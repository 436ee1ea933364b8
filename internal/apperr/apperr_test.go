package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("failed to assign flow: %w", Conflict("active assignment %s exists", "a1"))

	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestKindOf_GenericFault(t *testing.T) {
	err := errors.New("connection refused")
	assert.Equal(t, Kind(""), KindOf(err))
}

func TestWrap(t *testing.T) {
	cause := errors.New("duplicate key")
	err := Wrap(KindConflict, cause, "snapshot version %d taken", 3)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "snapshot version 3 taken")
	assert.Contains(t, err.Error(), "duplicate key")
}
