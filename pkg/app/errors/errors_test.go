package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeSessionLoad, "failed to load sessions", nil)
	assert.Equal(t, "SESSION_LOAD_FAILED: failed to load sessions", err.Error())

	wrapped := New(ErrCodeSessionLoad, "failed to load sessions", stderrors.New("connection refused"))
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := New(ErrCodeCacheAccess, "failed to write cache entry", cause)

	require.ErrorIs(t, err, cause)
}

func TestCodeExtraction(t *testing.T) {
	err := New(ErrCodeInvalidInput, "bad token", nil)
	assert.Equal(t, ErrCodeInvalidInput, Code(err))

	// Wrapping through fmt keeps the code reachable.
	assert.Equal(t, ErrCodeInvalidInput, Code(fmt.Errorf("login: %w", err)))

	assert.Empty(t, Code(stderrors.New("plain")))
	assert.Empty(t, Code(nil))
}
