package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mu    sync.Mutex
	calls [][]Verdict
	failN int
}

func (m *mockNotifier) Name() string { return "mock" }

func (m *mockNotifier) Notify(_ context.Context, verdicts []Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Verdict, len(verdicts))
	copy(cp, verdicts)
	m.calls = append(m.calls, cp)
	if m.failN > 0 {
		m.failN--
		return errors.New("mock notify failure")
	}
	return nil
}

func (m *mockNotifier) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
}

func (m *mockNotifier) Calls() [][]Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Verdict, len(m.calls))
	copy(out, m.calls)
	return out
}

func newTestRunner(t *testing.T, signals []Signal) (*Runner, *SQLStore, *mockNotifier) {
	t.Helper()
	store := openTestStore(t, nil)
	if len(signals) > 0 {
		require.NoError(t, store.InsertSignals(context.Background(), signals))
	}
	notifier := &mockNotifier{}
	runner, err := NewRunner(RunnerConfig{
		Detection: testConfig(),
		Interval:  10 * time.Millisecond,
		Lookback:  60 * time.Minute,
		Cooldown:  24 * time.Hour,
	}, store, store, notifier)
	require.NoError(t, err)
	return runner, store, notifier
}

func TestRunner_OverlappingTicksNotifyOnce(t *testing.T) {
	runner, store, notifier := newTestRunner(t, encounter(100, 200, 0, 35, 0.2, offshoreLat, offshoreLon))
	ctx := context.Background()

	now := minute(40)
	runner.now = func() time.Time { return now }
	runner.dedup.now = runner.now

	res, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, 1, res.Fresh)
	assert.True(t, res.Delivered)
	assert.NotEmpty(t, res.RecordID)
	assert.Equal(t, StateIdle, runner.State())

	// Next tick: the window still covers the encounter.
	now = minute(45)
	res, err = runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, 0, res.Fresh)
	assert.Equal(t, 1, res.Suppressed)

	calls := notifier.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 1)
	assert.Equal(t, int64(100), calls[0][0].VesselA)

	recent, err := store.Recent(ctx, HistoryFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Delivered)
	assert.Equal(t, 1, recent[0].Attempts)
}

func TestRunner_FailedDeliveryIsRetriedWithoutNewRecord(t *testing.T) {
	runner, store, notifier := newTestRunner(t, encounter(100, 200, 0, 35, 0.2, offshoreLat, offshoreLon))
	ctx := context.Background()
	now := minute(40)
	runner.now = func() time.Time { return now }
	runner.dedup.now = runner.now

	notifier.FailNext(1)
	res, err := runner.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotificationFailure))
	assert.False(t, res.Delivered)
	assert.Equal(t, StateIdle, runner.State())

	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].LastError, "mock notify failure")

	now = minute(45)
	res, err = runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 0, res.Fresh)

	require.Len(t, notifier.Calls(), 2)
	pending, err = store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	recent, err := store.Recent(ctx, HistoryFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 2, recent[0].Attempts)
}

func TestRunner_MaxDeliveryAttempts(t *testing.T) {
	runner, store, notifier := newTestRunner(t, encounter(100, 200, 0, 35, 0.2, offshoreLat, offshoreLon))
	runner.cfg.MaxDeliveryAttempts = 1
	ctx := context.Background()
	now := minute(40)
	runner.now = func() time.Time { return now }
	runner.dedup.now = runner.now

	notifier.FailNext(5)
	_, err := runner.RunOnce(ctx)
	require.Error(t, err)

	now = minute(45)
	res, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retried)
	assert.Len(t, notifier.Calls(), 1)

	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunner_NoDataIsRecoverable(t *testing.T) {
	runner, _, notifier := newTestRunner(t, nil)
	_, err := runner.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.Equal(t, StateIdle, runner.State())
	assert.Empty(t, notifier.Calls())
}

func TestRunner_RunStopsBetweenTicks(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil)
	var ticks int
	var mu sync.Mutex
	runner.now = func() time.Time {
		mu.Lock()
		ticks++
		mu.Unlock()
		return minute(40)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRunner_Validation(t *testing.T) {
	store := openTestStore(t, nil)

	_, err := NewRunner(RunnerConfig{Detection: testConfig()}, nil, store, nil)
	assert.True(t, errors.Is(err, ErrConfiguration))

	bad := testConfig()
	bad.SOGThreshold = -1
	_, err = NewRunner(RunnerConfig{Detection: bad}, store, store, nil)
	assert.True(t, errors.Is(err, ErrConfiguration))

	r, err := NewRunner(RunnerConfig{Detection: testConfig()}, store, store, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, r.cfg.Interval)
	assert.Equal(t, time.Hour, r.cfg.Lookback)
	assert.Equal(t, "log", r.notifier.Name())
}

func TestRunner_LongEncounterAlertsOnce(t *testing.T) {
	runner, store, notifier := newTestRunner(t, encounter(100, 200, 0, 120, 0.2, offshoreLat, offshoreLon))
	ctx := context.Background()
	var now time.Time
	runner.now = func() time.Time { return now }
	runner.dedup.now = runner.now

	// From the second tick on, the window has cut off the encounter's start.
	for i, m := range []int{60, 65, 70, 75, 80} {
		now = minute(m).Add(30 * time.Second)
		res, err := runner.RunOnce(ctx)
		require.NoError(t, err, "tick at minute %d", m)
		assert.Equal(t, 1, res.Confirmed, "tick at minute %d", m)
		if i == 0 {
			assert.Equal(t, 1, res.Fresh)
			continue
		}
		assert.Equal(t, 0, res.Fresh, "tick at minute %d", m)
		assert.Equal(t, 1, res.Suppressed, "tick at minute %d", m)
	}

	assert.Len(t, notifier.Calls(), 1)
	recent, err := store.Recent(ctx, HistoryFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
