package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by the fake sleep instead of real time passing.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestGuard(store Store, limits Limits, clock *fakeClock) *Guard {
	return NewGuard(store, limits, WithClock(clock.Now), WithSleep(clock.Sleep))
}

func TestReserve_AdmitsAndRecords(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC))
	store := NewMemoryStore()
	g := newTestGuard(store, DefaultLimits(), clock)

	require.NoError(t, g.Reserve(context.Background(), 120))
	require.NoError(t, g.Reserve(context.Background(), 30.5))

	s, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Minute.RequestCount)
	assert.Equal(t, 150.5, s.Hour.AudioSeconds)
	assert.Equal(t, "2026-03-01", s.Day.DateISO)
	assert.Equal(t, 2, s.Day.RequestCount)
	assert.Equal(t, 150.5, s.Day.AudioSeconds)
	assert.Equal(t, clock.Now().Truncate(time.Minute).UnixMilli(), s.Minute.WindowStartMs)
	assert.Equal(t, clock.Now().Truncate(time.Hour).UnixMilli(), s.Hour.WindowStartMs)
	assert.Empty(t, clock.Sleeps())
}

// A full minute window blocks until the next minute boundary, then admits.
func TestReserve_WaitsForMinuteWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC))
	store := NewMemoryStore()
	limits := DefaultLimits()
	limits.MinuteRequests = 2
	g := newTestGuard(store, limits, clock)

	ctx := context.Background()
	require.NoError(t, g.Reserve(ctx, 1))
	require.NoError(t, g.Reserve(ctx, 1))
	require.NoError(t, g.Reserve(ctx, 1))

	assert.Equal(t, []time.Duration{50 * time.Second}, clock.Sleeps())

	s, _ := store.Load(ctx)
	assert.Equal(t, 1, s.Minute.RequestCount, "new minute window holds only the third request")
	assert.Equal(t, 3, s.Day.RequestCount)
	assert.Equal(t, 3.0, s.Hour.AudioSeconds)
}

func TestReserve_WaitsForHourWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 59, 0, 0, time.UTC))
	store := NewMemoryStore()
	g := newTestGuard(store, DefaultLimits(), clock)
	ctx := context.Background()

	require.NoError(t, g.Reserve(ctx, 7000))
	require.NoError(t, g.Reserve(ctx, 300))

	assert.Equal(t, []time.Duration{time.Minute}, clock.Sleeps())
	s, _ := store.Load(ctx)
	assert.Equal(t, 300.0, s.Hour.AudioSeconds)
	assert.Equal(t, 7300.0, s.Day.AudioSeconds)
}

// The nearer of two blocking boundaries is waited for first.
func TestReserve_WaitsForNearerBoundary(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC))
	store := NewMemoryStore()
	limits := DefaultLimits()
	limits.MinuteRequests = 1
	g := newTestGuard(store, limits, clock)
	ctx := context.Background()

	require.NoError(t, g.Reserve(ctx, 7100))
	require.NoError(t, g.Reserve(ctx, 200))

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 2)
	assert.Equal(t, 15*time.Second, sleeps[0])
	assert.Equal(t, 29*time.Minute, sleeps[1])
}

func TestReserve_DailyRequestCeilingFailsImmediately(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(s *State) (bool, error) {
		s.Day = DayWindow{DateISO: "2026-03-01", RequestCount: 2000, AudioSeconds: 100}
		return true, nil
	}))
	before, _ := store.Load(ctx)

	g := newTestGuard(store, DefaultLimits(), clock)
	err := g.Reserve(ctx, 10)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, WindowDayRequests, exceeded.Window)
	assert.Empty(t, clock.Sleeps())

	after, _ := store.Load(ctx)
	assert.Equal(t, before, after)
}

func TestReserve_DailyAudioCeilingFailsImmediately(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(s *State) (bool, error) {
		s.Day = DayWindow{DateISO: "2026-03-01", RequestCount: 10, AudioSeconds: 28700}
		return true, nil
	}))

	err := newTestGuard(store, DefaultLimits(), clock).Reserve(ctx, 101)

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, WindowDayAudioSeconds, exceeded.Window)
	assert.Contains(t, err.Error(), "28800")
}

func TestReserve_RequestLargerThanHourCap(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	err := newTestGuard(NewMemoryStore(), DefaultLimits(), clock).Reserve(context.Background(), 7201)

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, WindowHourAudioSeconds, exceeded.Window)
}

func TestReserve_YesterdayIsForgotten(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 0, 0, 5, 0, time.UTC))
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(s *State) (bool, error) {
		s.Day = DayWindow{DateISO: "2026-03-01", RequestCount: 2000, AudioSeconds: 28800}
		return true, nil
	}))

	require.NoError(t, newTestGuard(store, DefaultLimits(), clock).Reserve(ctx, 60))
	s, _ := store.Load(ctx)
	assert.Equal(t, DayWindow{DateISO: "2026-03-02", RequestCount: 1, AudioSeconds: 60}, s.Day)
}

func TestReserve_CancelledWhileWaiting(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC))
	limits := DefaultLimits()
	limits.MinuteRequests = 1
	store := NewMemoryStore()
	g := newTestGuard(store, limits, clock)

	require.NoError(t, g.Reserve(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Reserve(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)

	s, _ := store.Load(context.Background())
	assert.Equal(t, 1, s.Day.RequestCount, "a cancelled reservation records nothing")
}

func TestReserve_RealSleepHonorsContext(t *testing.T) {
	limits := DefaultLimits()
	limits.MinuteRequests = 1
	g := NewGuard(NewMemoryStore(), limits)
	require.NoError(t, g.Reserve(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := g.Reserve(ctx, 1)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// Concurrent reservations never double count and never exceed a cap.
func TestReserve_ConcurrentAdmissions(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	g := newTestGuard(store, DefaultLimits(), clock)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Reserve(context.Background(), 10))
		}()
	}
	wg.Wait()

	s, _ := store.Load(context.Background())
	assert.Equal(t, 20, s.Minute.RequestCount)
	assert.Equal(t, 20, s.Day.RequestCount)
	assert.Equal(t, 200.0, s.Hour.AudioSeconds)
	assert.Empty(t, clock.Sleeps())
}

func TestCheckExhaustion(t *testing.T) {
	ctx := context.Background()

	t.Run("at cap reports without mutating", func(t *testing.T) {
		clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		store := NewMemoryStore()
		require.NoError(t, store.Update(ctx, func(s *State) (bool, error) {
			s.Day = DayWindow{DateISO: "2026-03-01", RequestCount: 2000, AudioSeconds: 28000}
			s.Minute = MinuteWindow{WindowStartMs: 1, RequestCount: 3}
			return true, nil
		}))
		before, _ := store.Load(ctx)

		ex, err := newTestGuard(store, DefaultLimits(), clock).CheckExhaustion(ctx, 900)
		require.NoError(t, err)
		assert.True(t, ex.RequestsExhausted)
		assert.True(t, ex.AudioSecondsExhausted)
		assert.True(t, ex.Exhausted())

		after, _ := store.Load(ctx)
		assert.Equal(t, before, after)
	})

	t.Run("rolls the day window over", func(t *testing.T) {
		clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
		store := NewMemoryStore()
		require.NoError(t, store.Update(ctx, func(s *State) (bool, error) {
			s.Day = DayWindow{DateISO: "2026-03-01", RequestCount: 2000, AudioSeconds: 28800}
			return true, nil
		}))

		ex, err := newTestGuard(store, DefaultLimits(), clock).CheckExhaustion(ctx, 60)
		require.NoError(t, err)
		assert.False(t, ex.Exhausted())

		s, _ := store.Load(ctx)
		assert.Equal(t, DayWindow{DateISO: "2026-03-02"}, s.Day)
	})
}

func TestSnapshot(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	g := newTestGuard(store, DefaultLimits(), clock)
	require.NoError(t, g.Reserve(context.Background(), 42))

	clock.Sleep(context.Background(), 2*time.Minute)
	snap, err := g.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultLimits(), snap.Limits)
	assert.Equal(t, 0, snap.State.Minute.RequestCount, "stale minute window is shown rolled")
	assert.Equal(t, 42.0, snap.State.Hour.AudioSeconds)
}
