package kxerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(KindState, ReasonAlreadyOpened, "worker already opened")
	require.NotNil(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindState, kind)

	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonAlreadyOpened, reason)

	assert.True(t, Match(err, KindState, ReasonAlreadyOpened))
	assert.False(t, Match(err, KindState, ReasonClosed))
	assert.False(t, Match(err, KindLookup, ReasonAlreadyOpened))
}

func TestWrapPreservesKindAndAccruesContexts(t *testing.T) {
	leaf := New(KindLookup, ReasonUnknownComponent, "no such component")
	wrapped := Wrap(leaf, "call on P1")
	wrapped = Wrap(wrapped, "controller.callWorkerComponent")

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindLookup, kind)

	reason, _ := ReasonOf(wrapped)
	assert.Equal(t, ReasonUnknownComponent, reason)

	assert.Equal(t, []string{"controller.callWorkerComponent", "call on P1"}, Contexts(wrapped))
	assert.Contains(t, wrapped.Error(), "no such component")
	assert.Contains(t, wrapped.Error(), "call on P1")
}

func TestWrapCausePreservesOriginal(t *testing.T) {
	original := assertError("boom")
	wrapped := WrapCause("open", original)

	assert.True(t, HasKind(wrapped, KindMethodCall))
	var asOriginal assertErrorType
	require.True(t, As(wrapped, &asOriginal))
	assert.Equal(t, "boom", asOriginal.Error())
}

func TestToFailureRoundTrip(t *testing.T) {
	leaf := New(KindTransport, ReasonCallCancelled, "call cancelled")
	wrapped := Wrap(leaf, "call on P1")

	f := ToFailure(wrapped)
	require.NotNil(t, f)
	assert.Equal(t, KindTransport, f.Kind)
	assert.Equal(t, ReasonCallCancelled, f.Reason)
	assert.Equal(t, []string{"call on P1"}, f.Contexts)

	reconstructed := FromFailure(f)
	kind, ok := KindOf(reconstructed)
	require.True(t, ok)
	assert.Equal(t, KindTransport, kind)
	assert.Equal(t, []string{"call on P1"}, Contexts(reconstructed))
	assert.Contains(t, reconstructed.Error(), "call cancelled")
}

func TestToFailureNil(t *testing.T) {
	assert.Nil(t, ToFailure(nil))
	assert.Nil(t, FromFailure(nil))
}

type assertErrorType string

func (a assertErrorType) Error() string { return string(a) }

func assertError(msg string) error { return assertErrorType(msg) }
