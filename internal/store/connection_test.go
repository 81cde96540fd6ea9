package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segclient/internal/wsclient"
)

func newConnStore(t *testing.T, retry time.Duration) (*ConnectionStore, *fakeConn, *fixture) {
	t.Helper()
	f := newFixture()
	c := &fakeConn{}
	s := NewConnectionStore(c, retry, f.options())
	t.Cleanup(s.Close)
	return s, c, f
}

func TestEnsureConnectsOnce(t *testing.T) {
	s, c, _ := newConnStore(t, 0)
	require.NoError(t, s.Ensure(context.Background()))
	require.NoError(t, s.Ensure(context.Background()))
	assert.Equal(t, []string{""}, c.connectCalls())
	assert.True(t, s.State().IsConnected)
	assert.Len(t, c.openSubs, 1)
}

func TestConnectionIDFromEstablishedMessage(t *testing.T) {
	s, c, _ := newConnStore(t, 0)
	require.NoError(t, s.Ensure(context.Background()))
	c.deliver(wsclient.ConnectionEstablished{ConnectionID: "abc"})

	st := s.State()
	assert.Equal(t, "abc", st.ConnectionID)
	assert.Equal(t, wsclient.TypeConnectionEstablished, st.LastMessageType)
	assert.Len(t, st.MessageLog, 1)
}

func TestMessageLogIsBounded(t *testing.T) {
	s, c, _ := newConnStore(t, 0)
	require.NoError(t, s.Ensure(context.Background()))
	for i := 0; i < MaxMessageLog+20; i++ {
		c.deliver(wsclient.SegmentationProgress{AlgorithmName: fmt.Sprint(i)})
	}
	log := s.State().MessageLog
	require.Len(t, log, MaxMessageLog)
	assert.Equal(t, "119", log[len(log)-1].(wsclient.SegmentationProgress).AlgorithmName)

	s.ClearHistory()
	assert.Empty(t, s.State().MessageLog)
}

func TestSendWhileDisconnected(t *testing.T) {
	s, c, _ := newConnStore(t, 0)
	err := s.Send(wsclient.Ping{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "not connected", s.State().Error)
	assert.Empty(t, c.sent)

	s.ClearError()
	require.NoError(t, s.Ensure(context.Background()))
	require.NoError(t, s.Send(wsclient.Ping{Timestamp: 1}))
	assert.Len(t, c.sent, 1)
}

func TestDisconnectResetsState(t *testing.T) {
	s, c, _ := newConnStore(t, 0)
	require.NoError(t, s.Ensure(context.Background()))
	c.deliver(wsclient.ConnectionEstablished{ConnectionID: "abc"})

	s.Disconnect()
	st := s.State()
	assert.False(t, st.IsConnected)
	assert.Empty(t, st.ConnectionID)
	assert.Empty(t, st.Error)
}

func TestStoreRetryResumesLastConnection(t *testing.T) {
	s, c, f := newConnStore(t, 3*time.Second)
	require.NoError(t, s.Ensure(context.Background()))
	c.deliver(wsclient.ConnectionEstablished{ConnectionID: "abc"})

	c.drop()
	c.emitError(errors.New("read: connection reset"))
	assert.Equal(t, "read: connection reset", s.State().Error)
	require.Equal(t, 1, f.sched.count())
	assert.Equal(t, 3*time.Second, f.sched.delay(0))

	f.sched.fire(0)
	assert.Equal(t, []string{"", "abc"}, c.connectCalls())
	st := s.State()
	assert.True(t, st.IsConnected)
	assert.Empty(t, st.Error)
}

func TestStoreRetryDefersToTransport(t *testing.T) {
	s, c, f := newConnStore(t, 3*time.Second)
	require.NoError(t, s.Ensure(context.Background()))

	c.drop()
	c.emitError(errors.New("reset"))
	c.set(func(c *fakeConn) { c.pending = true })
	f.sched.fire(0)
	assert.Len(t, c.connectCalls(), 1, "transport backoff pending")

	c.set(func(c *fakeConn) { c.pending = false; c.exhausted = true })
	c.emitError(wsclient.ErrReconnectExhausted)
	require.Equal(t, 2, f.sched.count())
	f.sched.fire(1)
	assert.Len(t, c.connectCalls(), 1, "transport gave up")
	assert.Equal(t, wsclient.ErrReconnectExhausted.Error(), s.State().Error)
}

func TestStoreRetryHoldsBackDuringDial(t *testing.T) {
	s, c, f := newConnStore(t, 3*time.Second)
	require.NoError(t, s.Ensure(context.Background()))

	c.drop()
	c.emitError(errors.New("reset"))
	c.set(func(c *fakeConn) { c.connecting = true })
	f.sched.fire(0)
	assert.Len(t, c.connectCalls(), 1)
}

// gatedDialer blocks every dial until released and then refuses it, like a
// blackholed host running into the dial timeout.
type gatedDialer struct {
	started chan struct{}
	release chan struct{}
}

func newGatedDialer() *gatedDialer {
	return &gatedDialer{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (d *gatedDialer) Dial(context.Context, string) (wsclient.Conn, error) {
	d.started <- struct{}{}
	<-d.release
	return nil, errors.New("i/o timeout")
}

// inBackground runs fn and fails the test if it does not return promptly.
func inBackground(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s blocked", what)
	}
}

func TestSlowDialsStillExhaustTransportBackoff(t *testing.T) {
	f := newFixture()
	d := newGatedDialer()
	transport := &fakeScheduler{}
	client := wsclient.New(wsclient.Config{
		BaseURL:              "ws://backend:8000",
		ReconnectBase:        time.Second,
		MaxReconnectAttempts: 2,
		Heartbeat:            time.Hour,
		Dialer:               d,
		Scheduler:            transport,
	})
	t.Cleanup(client.Disconnect)
	s := NewConnectionStore(client, 3*time.Second, f.options())
	t.Cleanup(s.Close)

	ensured := make(chan error, 1)
	go func() { ensured <- s.Ensure(context.Background()) }()
	<-d.started
	d.release <- struct{}{}
	require.Error(t, <-ensured)
	require.Equal(t, 1, transport.count())
	require.Equal(t, 1, f.sched.count())

	for i := 0; i < 2; i++ {
		go transport.fire(i)
		<-d.started
		require.Equal(t, wsclient.StateConnecting, client.State())

		// The store retry lands while the backoff dial is still running.
		inBackground(t, "store retry", func() { f.sched.fire(i) })
		assert.Empty(t, d.started, "store retry dialed during a backoff dial")

		d.release <- struct{}{}
		require.Eventually(t, func() bool {
			return f.sched.count() == i+2 && (client.ReconnectPending() || client.Exhausted())
		}, 2*time.Second, 5*time.Millisecond)
	}

	assert.Equal(t, time.Second, transport.delay(0))
	assert.Equal(t, 2*time.Second, transport.delay(1))
	assert.Equal(t, 2, transport.count())
	assert.Equal(t, 2, client.Attempts())
	require.Eventually(t, func() bool {
		return s.State().Error == wsclient.ErrReconnectExhausted.Error()
	}, 2*time.Second, 5*time.Millisecond)

	inBackground(t, "store retry", func() { f.sched.fire(2) })
	assert.Empty(t, d.started, "store retry dialed after the transport gave up")
}

func TestStoreRetryCancelledByOpenAndDisconnect(t *testing.T) {
	s, c, f := newConnStore(t, time.Second)
	c.set(func(c *fakeConn) { c.connectErr = errors.New("refused") })
	assert.Error(t, s.Ensure(context.Background()))
	require.Equal(t, 1, f.sched.count())

	// A second error while a retry is armed does not stack timers.
	c.emitError(errors.New("again"))
	assert.Equal(t, 1, f.sched.count())

	c.set(func(c *fakeConn) { c.connectErr = nil })
	require.NoError(t, c.Connect(context.Background(), ""))
	assert.True(t, f.sched.stopped(0))

	c.drop()
	c.emitError(errors.New("reset"))
	require.Equal(t, 2, f.sched.count())
	s.Disconnect()
	assert.True(t, f.sched.stopped(1))
}

func TestZeroRetryDelayDisablesStoreRetry(t *testing.T) {
	s, c, f := newConnStore(t, 0)
	c.set(func(c *fakeConn) { c.connectErr = errors.New("refused") })
	assert.Error(t, s.Ensure(context.Background()))
	assert.Equal(t, 0, f.sched.count())
	assert.Equal(t, "refused", s.State().Error)

	// An error blocks further auto-connects until cleared.
	assert.NoError(t, s.Ensure(context.Background()))
	assert.Len(t, c.connectCalls(), 1)
}

func TestCloseUnsubscribes(t *testing.T) {
	f := newFixture()
	c := &fakeConn{}
	s := NewConnectionStore(c, 0, f.options())
	require.NoError(t, s.Ensure(context.Background()))
	s.Close()
	assert.Equal(t, 4, c.unsubCalls)
}
