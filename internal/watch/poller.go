// Package watch keeps an observer's view of an appointment in step with the
// server by polling. Each watcher owns one goroutine; fetches never overlap,
// and nothing is applied once the watcher has been stopped.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"consultation-queue-server/internal/apperrors"
)

// DefaultInterval is used when Options.Interval is zero.
const DefaultInterval = 5 * time.Second

// Snapshot is the latest known state of a polled resource.
type Snapshot[T any] struct {
	Value T
	// Valid is false until the first successful fetch.
	Valid bool
	// Stale is set when the most recent fetch failed; Value is then the last
	// good one.
	Stale bool
	Err   error
	// Seq numbers fetches in issue order. Fetches never overlap, so each
	// applied snapshot carries a higher Seq than the one before.
	Seq     uint64
	Fetched time.Time
}

type Options[T any] struct {
	Interval time.Duration
	Fetch    func(ctx context.Context) (T, error)
	// Apply runs on the polling goroutine after every fetch. It must not
	// call Stop.
	Apply func(Snapshot[T])
	// Done reports that the resource is finished and polling should end.
	Done   func(T) bool
	Logger zerolog.Logger
	Now    func() time.Time
}

type Poller[T any] struct {
	opts Options[T]

	mu      sync.Mutex
	snap    Snapshot[T]
	issued  uint64
	alive   bool
	started bool
	cancel  context.CancelFunc
	err     error

	refresh chan struct{}
	done    chan struct{}
}

func NewPoller[T any](opts Options[T]) *Poller[T] {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller[T]{
		opts:    opts,
		refresh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the polling loop. The first fetch happens immediately.
// Calling Start twice is a no-op.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.started = true
	p.alive = true
	p.cancel = cancel
	go p.run(ctx)
}

// Stop cancels any in-flight fetch and waits for the loop to exit.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	p.alive = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-p.done
}

// Refresh asks for a fetch now. Requests made while a fetch is running
// collapse into one.
func (p *Poller[T]) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Done is closed when the loop has exited.
func (p *Poller[T]) Done() <-chan struct{} {
	return p.done
}

// Err is the reason polling ended on its own, or nil.
func (p *Poller[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Poller[T]) Snapshot() Snapshot[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *Poller[T]) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if finished := p.poll(ctx); finished {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.refresh:
		}
	}
}

// poll does one fetch and applies it. It reports whether the loop is over.
func (p *Poller[T]) poll(ctx context.Context) bool {
	p.mu.Lock()
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	value, err := p.opts.Fetch(ctx)
	if ctx.Err() != nil {
		return true
	}

	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return true
	}

	finished := false
	p.snap.Seq = seq
	if err != nil {
		p.snap.Stale = true
		p.snap.Err = err
		if errors.Is(err, apperrors.ErrNotFound) {
			p.err = err
			finished = true
		}
	} else {
		p.snap.Value = value
		p.snap.Valid = true
		p.snap.Stale = false
		p.snap.Err = nil
		p.snap.Fetched = p.opts.Now()
		if p.opts.Done != nil && p.opts.Done(value) {
			finished = true
		}
	}
	if finished {
		p.alive = false
	}
	snap := p.snap
	p.mu.Unlock()

	if err != nil {
		p.opts.Logger.Warn().Err(err).Uint64("seq", seq).Bool("stopping", finished).Msg("Poll failed")
	}
	if p.opts.Apply != nil {
		p.opts.Apply(snap)
	}
	return finished
}
