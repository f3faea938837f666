package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindError_Error(t *testing.T) {
	err := NewKind(KindParse, "bad pdf", nil)
	assert.Equal(t, "parse: bad pdf", err.Error())

	wrapped := NewKind(KindTransient, "embed timeout", fmt.Errorf("context deadline exceeded"))
	assert.Contains(t, wrapped.Error(), "transient: embed timeout")
	assert.Contains(t, wrapped.Error(), "context deadline exceeded")
}

func TestKindError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewKind(KindPersistence, "save failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	err := NewKind(KindConcurrency, "busy", nil)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConcurrency, kind)

	_, ok = KindOf(fmt.Errorf("plain error"))
	assert.False(t, ok)
}

func TestKindOf_WrappedByFmt(t *testing.T) {
	inner := NewKind(KindInconsistency, "degraded-sparse", nil)
	wrapped := fmt.Errorf("check_consistency: %w", inner)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindInconsistency, kind)
}

func TestIsRetryableKind(t *testing.T) {
	assert.True(t, IsRetryableKind(KindTransient))
	assert.True(t, IsRetryableKind(KindConcurrency))
	assert.False(t, IsRetryableKind(KindInput))
	assert.False(t, IsRetryableKind(KindParse))
	assert.False(t, IsRetryableKind(KindPersistence))
	assert.False(t, IsRetryableKind(KindInconsistency))
}
