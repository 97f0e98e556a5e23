package watch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"consultation-queue-server/internal/queue"
)

// PositionSource fetches a patient's queue position. client.Client
// satisfies it.
type PositionSource interface {
	QueuePosition(ctx context.Context, appointmentID string) (queue.Position, error)
}

type QueueOptions struct {
	Interval time.Duration
	// OnUpdate receives every poll result, including stale ones.
	OnUpdate func(Snapshot[queue.Position])
	// OnTurn fires once when the patient's turn arrives. Neither callback
	// may call Stop.
	OnTurn func(queue.Position)
	Logger zerolog.Logger
}

// QueueWatcher follows one appointment's place in the queue. Each poll
// replaces the previous position wholesale.
type QueueWatcher struct {
	poller *Poller[queue.Position]
	opts   QueueOptions
	turn   queue.TurnDetector
}

func NewQueueWatcher(src PositionSource, appointmentID string, opts QueueOptions) *QueueWatcher {
	w := &QueueWatcher{opts: opts}
	w.poller = NewPoller(Options[queue.Position]{
		Interval: opts.Interval,
		Fetch: func(ctx context.Context) (queue.Position, error) {
			return src.QueuePosition(ctx, appointmentID)
		},
		Apply: w.apply,
		Done: func(pos queue.Position) bool {
			return !queue.Occupies(pos.AppointmentStatus)
		},
		Logger: opts.Logger.With().Str("appointment_id", appointmentID).Str("watch", "queue").Logger(),
	})
	return w
}

// apply only runs on the polling goroutine, so the detector needs no lock.
func (w *QueueWatcher) apply(snap Snapshot[queue.Position]) {
	if w.opts.OnUpdate != nil {
		w.opts.OnUpdate(snap)
	}
	if snap.Stale || !snap.Valid {
		return
	}
	if w.turn.Observe(snap.Value.IsYourTurn) && w.opts.OnTurn != nil {
		w.opts.OnTurn(snap.Value)
	}
}

func (w *QueueWatcher) Start(ctx context.Context)         { w.poller.Start(ctx) }
func (w *QueueWatcher) Stop()                             { w.poller.Stop() }
func (w *QueueWatcher) Refresh()                          { w.poller.Refresh() }
func (w *QueueWatcher) Done() <-chan struct{}             { return w.poller.Done() }
func (w *QueueWatcher) Err() error                        { return w.poller.Err() }
func (w *QueueWatcher) Current() Snapshot[queue.Position] { return w.poller.Snapshot() }
