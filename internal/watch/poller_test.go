package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation-queue-server/internal/apperrors"
)

const waitFor = 2 * time.Second

type recorder[T any] struct {
	mu    sync.Mutex
	snaps []Snapshot[T]
}

func (r *recorder[T]) apply(s Snapshot[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder[T]) all() []Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot[T], len(r.snaps))
	copy(out, r.snaps)
	return out
}

// script returns the next result on each call and repeats the last one.
type script[T any] struct {
	mu      sync.Mutex
	results []result[T]
	calls   int
}

type result[T any] struct {
	value T
	err   error
}

func (s *script[T]) fetch(context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].value, s.results[i].err
}

func (s *script[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("poller did not finish")
	}
}

func TestPollerStopsWhenDone(t *testing.T) {
	src := &script[int]{results: []result[int]{{value: 1}, {value: 2}, {value: 3}}}
	rec := &recorder[int]{}
	p := NewPoller(Options[int]{
		Interval: time.Millisecond,
		Fetch:    src.fetch,
		Apply:    rec.apply,
		Done:     func(v int) bool { return v >= 3 },
		Logger:   zerolog.Nop(),
	})
	p.Start(context.Background())
	waitDone(t, p.Done())

	snaps := rec.all()
	require.Len(t, snaps, 3)
	for i, s := range snaps {
		assert.Equal(t, i+1, s.Value)
		assert.Equal(t, uint64(i+1), s.Seq)
		assert.True(t, s.Valid)
	}
	assert.NoError(t, p.Err())
	assert.Equal(t, 3, src.count())

	// Stopping a finished poller is harmless.
	p.Stop()
}

func TestPollerKeepsLastGoodValueOnError(t *testing.T) {
	boom := errors.New("connection reset")
	src := &script[int]{results: []result[int]{{value: 7}, {err: boom}, {value: 8}, {value: 100}}}
	rec := &recorder[int]{}
	p := NewPoller(Options[int]{
		Interval: time.Millisecond,
		Fetch:    src.fetch,
		Apply:    rec.apply,
		Done:     func(v int) bool { return v == 100 },
		Logger:   zerolog.Nop(),
	})
	p.Start(context.Background())
	waitDone(t, p.Done())

	snaps := rec.all()
	require.Len(t, snaps, 4)
	assert.False(t, snaps[0].Stale)

	assert.True(t, snaps[1].Stale)
	assert.True(t, snaps[1].Valid)
	assert.Equal(t, 7, snaps[1].Value)
	assert.ErrorIs(t, snaps[1].Err, boom)

	assert.False(t, snaps[2].Stale)
	assert.NoError(t, snaps[2].Err)
	assert.Equal(t, 8, snaps[2].Value)
	assert.NoError(t, p.Err())
}

func TestPollerStopsOnNotFound(t *testing.T) {
	src := &script[int]{results: []result[int]{{value: 1}, {err: apperrors.ErrNotFound}}}
	rec := &recorder[int]{}
	p := NewPoller(Options[int]{
		Interval: time.Millisecond,
		Fetch:    src.fetch,
		Apply:    rec.apply,
		Logger:   zerolog.Nop(),
	})
	p.Start(context.Background())
	waitDone(t, p.Done())

	assert.ErrorIs(t, p.Err(), apperrors.ErrNotFound)
	assert.Equal(t, 2, src.count())
	snap := p.Snapshot()
	assert.True(t, snap.Stale)
	assert.Equal(t, 1, snap.Value)
}

func TestPollerRefreshFetchesImmediately(t *testing.T) {
	src := &script[int]{results: []result[int]{{value: 1}, {value: 2}}}
	rec := &recorder[int]{}
	p := NewPoller(Options[int]{
		Interval: time.Hour,
		Fetch:    src.fetch,
		Apply:    rec.apply,
		Logger:   zerolog.Nop(),
	})
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, waitFor, time.Millisecond)
	p.Refresh()
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, 2, p.Snapshot().Value)
}

func TestPollerAppliesNothingAfterStop(t *testing.T) {
	src := &script[int]{results: []result[int]{{value: 1}}}
	rec := &recorder[int]{}
	p := NewPoller(Options[int]{
		Interval: time.Hour,
		Fetch:    src.fetch,
		Apply:    rec.apply,
		Logger:   zerolog.Nop(),
	})
	p.Start(context.Background())
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, waitFor, time.Millisecond)

	p.Stop()
	p.Refresh()
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, rec.all(), 1)
	assert.Equal(t, 1, src.count())
}

func TestPollerStopCancelsInFlightFetch(t *testing.T) {
	started := make(chan struct{})
	rec := &recorder[int]{}
	p := NewPoller(Options[int]{
		Interval: time.Hour,
		Fetch: func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		},
		Apply:  rec.apply,
		Logger: zerolog.Nop(),
	})
	p.Start(context.Background())
	<-started

	p.Stop()
	waitDone(t, p.Done())
	assert.Empty(t, rec.all())
	assert.NoError(t, p.Err())
}

func TestPollerStopBeforeStart(t *testing.T) {
	p := NewPoller(Options[int]{Fetch: func(context.Context) (int, error) { return 0, nil }})
	p.Stop()
	assert.False(t, p.Snapshot().Valid)
}
