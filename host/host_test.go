package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/kuix/hub"
	"github.com/cuemby/kuix/kxerrors"
	"github.com/cuemby/kuix/lifecycle"
	"github.com/cuemby/kuix/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWorker struct {
	stopErr error
}

func (s *stubWorker) OnOpen(context.Context) error  { return nil }
func (s *stubWorker) OnStart(context.Context) error { return nil }
func (s *stubWorker) OnStop(context.Context) error  { return s.stopErr }
func (s *stubWorker) OnClose(context.Context) error { return nil }

func newTestHost(pid process.ID) (*Host, *hub.SharedHub) {
	h := hub.New()
	host := New(pid, h)
	host.Start()
	return host, h
}

func TestAddWorkerEmitsEvent(t *testing.T) {
	host, h := newTestHost("p1")
	defer host.Connector.Close()

	require.NoError(t, h.Subscribe("observer", "WorkerAdded"))
	_, err := host.AddWorker("w1", &stubWorker{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.GetEvents("observer", "WorkerAdded")) == 1
	}, time.Second, time.Millisecond)
}

func TestAddWorkerDuplicateFails(t *testing.T) {
	host, _ := newTestHost("p1")
	defer host.Connector.Close()
	_, err := host.AddWorker("w1", &stubWorker{})
	require.NoError(t, err)
	_, err = host.AddWorker("w1", &stubWorker{})
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonWorkerAlreadyAdded))
}

func TestOpenStartStopCloseWorkerThroughCapability(t *testing.T) {
	host, _ := newTestHost("p1")
	defer host.Connector.Close()
	handle, err := host.AddWorker("w1", &stubWorker{})
	require.NoError(t, err)

	require.NoError(t, host.openWorker(context.Background(), "w1"))
	assert.Equal(t, lifecycle.Opened, handle.Machine.Snapshot())
	require.NoError(t, host.startWorker(context.Background(), "w1"))
	assert.Equal(t, lifecycle.Running, handle.Machine.Snapshot())
	require.NoError(t, host.stopWorker(context.Background(), "w1"))
	require.NoError(t, host.closeWorker(context.Background(), "w1"))
	assert.Equal(t, lifecycle.Closed, handle.Machine.Snapshot())
}

func TestRemoveWorkerRequiresInitOrClosed(t *testing.T) {
	host, _ := newTestHost("p1")
	defer host.Connector.Close()
	handle, err := host.AddWorker("w1", &stubWorker{})
	require.NoError(t, err)
	require.NoError(t, host.openWorker(context.Background(), "w1"))
	assert.Equal(t, lifecycle.Opened, handle.Machine.Snapshot())

	err = host.removeWorker("w1")
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonWorkerState))

	require.NoError(t, host.closeWorker(context.Background(), "w1"))
	require.NoError(t, host.removeWorker("w1"))
}

func TestKillWorkerSwallowsStopFailure(t *testing.T) {
	host, h := newTestHost("p1")
	defer host.Connector.Close()
	_, err := host.AddWorker("w1", &stubWorker{stopErr: errors.New("stop always fails")})
	require.NoError(t, err)
	require.NoError(t, host.openWorker(context.Background(), "w1"))
	require.NoError(t, host.startWorker(context.Background(), "w1"))

	require.NoError(t, h.Subscribe("observer", "WorkerRemoved"))
	require.NoError(t, host.killWorker(context.Background(), "w1"))

	_, err = host.get("w1")
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonUnknownWorker))

	require.Eventually(t, func() bool {
		return len(h.GetEvents("observer", "WorkerRemoved")) == 1
	}, time.Second, time.Millisecond)
}

func TestKillWorkerUnknownWorkerStillFails(t *testing.T) {
	host, _ := newTestHost("p1")
	defer host.Connector.Close()
	err := host.killWorker(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonUnknownWorker))
}

func TestCallWorkerComponentUnknownComponent(t *testing.T) {
	host, _ := newTestHost("p1")
	defer host.Connector.Close()
	_, err := host.AddWorker("w1", &stubWorker{})
	require.NoError(t, err)

	_, err = host.callWorkerComponent("w1", "c1", "m", nil, nil)
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonUnknownComponent))
}

func TestHostCloseStopsAndClosesWorkersThenClearsHub(t *testing.T) {
	host, h := newTestHost("p1")
	handle, err := host.AddWorker("w1", &stubWorker{})
	require.NoError(t, err)
	require.NoError(t, host.openWorker(context.Background(), "w1"))
	require.NoError(t, host.startWorker(context.Background(), "w1"))

	require.NoError(t, host.close(context.Background(), false))

	assert.Equal(t, lifecycle.Closed, handle.Machine.Snapshot())
	// Process should be cleared from the hub: a fresh ClearProcess is a no-op.
	require.NoError(t, h.ClearProcess(host.ID))
}
