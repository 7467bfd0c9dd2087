package measure

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Keep-alive connections from the shared default transport linger
		// briefly after test servers close.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func closeIdleConnections() {
	if tr, ok := http.DefaultTransport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordingSink) PublishEvent(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind())
	}
	return kinds
}

func TestManagerRunLifecycle(t *testing.T) {
	defer closeIdleConnections()
	rig := newFakeRig(t)
	sink := &recordingSink{}

	mgr := NewManager(zap.NewNop(), time.Minute)
	mgr.SetEventSink(sink)

	res := mgr.Start(rig.runConfig(2))
	require.True(t, res.IsOk(), res.Error())
	assert.NotEmpty(t, res.Value().RunID)

	mgr.Wait()

	snap := mgr.Status()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, res.Value().RunID, snap.RunID)
	require.NotNil(t, snap.Summary)
	assert.Equal(t, 2, snap.Summary.Succeeded)
	require.NotNil(t, snap.LastEvent)
	assert.Equal(t, KindRunCompleted, snap.LastEvent.Kind())

	kinds := sink.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, KindRunStarted, kinds[0])
	assert.Equal(t, KindRunCompleted, kinds[len(kinds)-1])
}

func TestManagerRejectsConcurrentRuns(t *testing.T) {
	defer closeIdleConnections()
	rig := newFakeRig(t)
	rig.sweepBusy = func(call int) bool { return call < 500 }

	mgr := NewManager(zap.NewNop(), time.Minute)
	require.True(t, mgr.Start(rig.runConfig(1)).IsOk())

	second := mgr.Start(rig.runConfig(1))
	require.True(t, second.IsErr())
	assert.Contains(t, second.Error(), "already active")

	require.True(t, mgr.Cancel().IsOk())
	mgr.Wait()

	// A terminal run no longer blocks a new one.
	third := mgr.Start(rig.runConfig(1))
	require.True(t, third.IsOk(), third.Error())
	mgr.Wait()
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	mgr := NewManager(zap.NewNop(), time.Minute)

	res := mgr.Start(RunConfig{})
	require.True(t, res.IsErr())
	assert.Contains(t, res.Error(), "invalid run config")
}

func TestManagerControlWithoutActiveRun(t *testing.T) {
	mgr := NewManager(zap.NewNop(), time.Minute)

	assert.True(t, mgr.Pause().IsErr())
	assert.True(t, mgr.Resume().IsErr())
	assert.True(t, mgr.Cancel().IsErr())
	assert.Equal(t, StateIdle, mgr.Status().State)
}

func TestManagerPauseRequiresRunningState(t *testing.T) {
	defer closeIdleConnections()
	rig := newFakeRig(t)
	mgr := NewManager(zap.NewNop(), time.Minute)

	require.True(t, mgr.Start(rig.runConfig(1)).IsOk())
	mgr.Wait()

	// The terminal run no longer counts as active.
	res := mgr.Pause()
	require.True(t, res.IsErr())
	assert.Contains(t, res.Error(), "no active measurement run")
}

func TestManagerPauseResumeRoundTrip(t *testing.T) {
	defer closeIdleConnections()
	rig := newFakeRig(t)
	rig.sweepBusy = func(call int) bool { return call < 25 }

	mgr := NewManager(zap.NewNop(), time.Minute)
	require.True(t, mgr.Start(rig.runConfig(2)).IsOk())

	require.Eventually(t, func() bool {
		return mgr.Pause().IsOk()
	}, 5*time.Second, 2*time.Millisecond)

	// Double pause is rejected while the first request is outstanding.
	assert.True(t, mgr.Pause().IsErr())

	require.True(t, mgr.Resume().IsOk())
	assert.True(t, mgr.Resume().IsErr())

	mgr.Wait()
	assert.Equal(t, StateCompleted, mgr.Status().State)
}

func TestManagerSubscribeReceivesOrderedEvents(t *testing.T) {
	defer closeIdleConnections()
	rig := newFakeRig(t)
	mgr := NewManager(zap.NewNop(), time.Minute)

	id, ch := mgr.Subscribe()
	defer mgr.Unsubscribe(id)

	require.True(t, mgr.Start(rig.runConfig(1)).IsOk())
	mgr.Wait()

	var kinds []EventKind
	for len(kinds) == 0 || kinds[len(kinds)-1] != KindRunCompleted {
		select {
		case event := <-ch:
			kinds = append(kinds, event.Kind())
		case <-time.After(5 * time.Second):
			t.Fatal("subscriber did not receive the full stream")
		}
	}

	assert.Equal(t, KindRunStarted, kinds[0])
	assert.Contains(t, kinds, KindDeviceStarted)
	assert.Contains(t, kinds, KindMeasurementCompleted)
}

func TestManagerUnsubscribeClosesChannel(t *testing.T) {
	mgr := NewManager(zap.NewNop(), time.Minute)

	id, ch := mgr.Subscribe()
	mgr.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestManagerDropsSlowSubscriber(t *testing.T) {
	defer closeIdleConnections()
	rig := newFakeRig(t)
	mgr := NewManager(zap.NewNop(), time.Minute)

	// Never drained; a long run overflows the subscriber buffer.
	_, ch := mgr.Subscribe()

	require.True(t, mgr.Start(rig.runConfig(40)).IsOk())
	mgr.Wait()

	// The channel was closed on drop, so draining it terminates.
	received := 0
	for range ch {
		received++
	}
	assert.LessOrEqual(t, received, subscriberBufferSize)

	// The run itself is unaffected by the slow subscriber.
	assert.Equal(t, StateCompleted, mgr.Status().State)
}

func TestManagerStatusRetention(t *testing.T) {
	defer closeIdleConnections()
	rig := newFakeRig(t)
	mgr := NewManager(zap.NewNop(), 30*time.Millisecond)

	require.True(t, mgr.Start(rig.runConfig(1)).IsOk())
	mgr.Wait()

	assert.Equal(t, StateCompleted, mgr.Status().State)

	require.Eventually(t, func() bool {
		return mgr.Status().State == StateIdle
	}, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, mgr.Status().LastEvent)
}
