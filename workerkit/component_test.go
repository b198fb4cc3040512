package workerkit

import (
	"context"
	"testing"

	"github.com/cuemby/kuix/kxerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentSetAddRemoveRoundTrip(t *testing.T) {
	s := NewComponentSet()
	require.NoError(t, s.Add("c1", &stubComponent{}))

	err := s.Add("c1", &stubComponent{})
	require.Error(t, err)
	assert.True(t, kxerrors.HasKind(err, kxerrors.KindLookup))

	require.NoError(t, s.Remove("c1"))
	assert.Empty(t, s.Snapshot())
}

func TestComponentSetRemoveRequiresInitOrClosed(t *testing.T) {
	s := NewComponentSet()
	require.NoError(t, s.Add("c1", &stubComponent{}))
	ch, err := s.Get("c1")
	require.NoError(t, err)
	require.NoError(t, ch.Open(context.Background()))

	err = s.Remove("c1")
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonWorkerState))
}

func TestComponentSetCallDispatchesToComponent(t *testing.T) {
	s := NewComponentSet()
	require.NoError(t, s.Add("c1", &stubComponent{}))
	_, err := s.Call("c1", "whatever", nil, nil)
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonUnknownMethod))
}

func TestComponentSetCallUnknownComponent(t *testing.T) {
	s := NewComponentSet()
	_, err := s.Call("missing", "m", nil, nil)
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonUnknownComponent))
}

func TestComponentSetKillAllBestEffort(t *testing.T) {
	s := NewComponentSet()
	ctx := context.Background()
	require.NoError(t, s.Add("c1", &badStopWorkerComponent{}))
	ch, err := s.Get("c1")
	require.NoError(t, err)
	require.NoError(t, ch.Open(ctx))
	require.NoError(t, ch.Start(ctx))

	s.KillAll(ctx) // must not panic despite OnStop failing
	assert.Equal(t, "CLOSED", ch.Machine.Snapshot().String())
}

type badStopWorkerComponent struct{ stubComponent }

func (b *badStopWorkerComponent) OnStop(context.Context) error {
	return assertBoom
}

var assertBoom = kxerrors.New(kxerrors.KindMethodCall, "stop", "component stop always fails")
