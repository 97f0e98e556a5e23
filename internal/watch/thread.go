package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/messaging"
	"consultation-queue-server/internal/models"
)

// ErrStopped is returned by Send after the watcher has been stopped.
var ErrStopped = errors.New("watcher stopped")

// ThreadSource reads and posts to an appointment thread. client.Client
// satisfies it.
type ThreadSource interface {
	Thread(ctx context.Context, appointmentID string) (messaging.ThreadView, error)
	SendMessage(ctx context.Context, appointmentID, content, clientKey string) (models.Message, error)
}

type ThreadOptions struct {
	Interval   time.Duration
	SenderType models.SenderType
	SenderID   string
	// OnUpdate receives the merged thread after every poll and every local
	// change. Calls are serialized. It must not call Stop.
	OnUpdate func(ThreadState)
	Logger   zerolog.Logger
	Now      func() time.Time
}

// ThreadState is what an observer renders: the server's messages followed by
// local sends the server has not confirmed yet.
type ThreadState struct {
	AppointmentStatus models.AppointmentStatus
	ThreadOpen        bool
	Messages          []models.Message
	Pending           int
	Stale             bool
	Err               error
}

type ThreadWatcher struct {
	src           ThreadSource
	appointmentID string
	opts          ThreadOptions
	poller        *Poller[messaging.ThreadView]

	notifyMu sync.Mutex

	mu       sync.Mutex
	view     messaging.ThreadView
	seen     bool
	stale    bool
	err      error
	pending  []models.Message
	messages []models.Message
	stopped  bool
}

func NewThreadWatcher(src ThreadSource, appointmentID string, opts ThreadOptions) *ThreadWatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	w := &ThreadWatcher{src: src, appointmentID: appointmentID, opts: opts}
	w.poller = NewPoller(Options[messaging.ThreadView]{
		Interval: opts.Interval,
		Fetch: func(ctx context.Context) (messaging.ThreadView, error) {
			return src.Thread(ctx, appointmentID)
		},
		Apply: w.apply,
		Done: func(view messaging.ThreadView) bool {
			return lifecycle.IsTerminal(view.AppointmentStatus)
		},
		Logger: opts.Logger.With().Str("appointment_id", appointmentID).Str("watch", "thread").Logger(),
		Now:    opts.Now,
	})
	return w
}

func (w *ThreadWatcher) Start(ctx context.Context) { w.poller.Start(ctx) }
func (w *ThreadWatcher) Refresh()                  { w.poller.Refresh() }
func (w *ThreadWatcher) Done() <-chan struct{}     { return w.poller.Done() }
func (w *ThreadWatcher) Err() error                { return w.poller.Err() }

// Stop ends polling. Sends already in flight finish but no longer update
// the thread.
func (w *ThreadWatcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.poller.Stop()
}

// State returns the merged thread.
func (w *ThreadWatcher) State() ThreadState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *ThreadWatcher) stateLocked() ThreadState {
	msgs := make([]models.Message, len(w.messages))
	copy(msgs, w.messages)
	return ThreadState{
		AppointmentStatus: w.view.AppointmentStatus,
		ThreadOpen:        w.view.ThreadOpen,
		Messages:          msgs,
		Pending:           len(w.pending),
		Stale:             w.stale,
		Err:               w.err,
	}
}

func (w *ThreadWatcher) apply(snap Snapshot[messaging.ThreadView]) {
	w.update(func() {
		w.stale = snap.Stale
		w.err = snap.Err
		if snap.Valid && !snap.Stale {
			w.view = snap.Value
			w.seen = true
			w.messages, w.pending = Merge(snap.Value.Messages, w.pending)
		}
	})
}

// update mutates state under the lock and then notifies, keeping
// notifications in the order the changes were made.
func (w *ThreadWatcher) update(change func()) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	change()
	state := w.stateLocked()
	w.mu.Unlock()

	if w.opts.OnUpdate != nil {
		w.opts.OnUpdate(state)
	}
}

// Send shows content in the thread right away, posts it, and swaps the local
// copy for the stored message the server returns. A refresh follows so
// messages from the other side show up too. On failure the local copy is
// withdrawn.
func (w *ThreadWatcher) Send(ctx context.Context, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, apperrors.ErrEmptyContent
	}

	local := models.Message{
		AppointmentID: w.appointmentID,
		SenderType:    w.opts.SenderType,
		SenderID:      w.opts.SenderID,
		Content:       content,
		ClientKey:     uuid.NewString(),
		CreatedAt:     w.opts.Now().UTC(),
	}

	var refused error
	w.mu.Lock()
	switch {
	case w.stopped:
		refused = ErrStopped
	case w.seen && !w.view.ThreadOpen:
		refused = apperrors.ErrThreadClosed
	}
	w.mu.Unlock()
	if refused != nil {
		return models.Message{}, refused
	}

	w.update(func() {
		w.pending = append(w.pending, local)
		w.messages = append(w.messages, local)
	})

	stored, err := w.src.SendMessage(ctx, w.appointmentID, content, local.ClientKey)
	if err != nil {
		w.opts.Logger.Warn().Err(err).Str("appointment_id", w.appointmentID).Msg("Send failed")
		w.update(func() {
			w.pending = withoutKey(w.pending, local.ClientKey)
			w.messages = withoutKey(w.messages, local.ClientKey)
		})
		return models.Message{}, err
	}

	w.update(func() {
		w.pending = withoutKey(w.pending, local.ClientKey)
		w.messages = withoutKey(w.messages, local.ClientKey)
		if !containsID(w.messages, stored.ID) {
			w.messages = append(w.messages, stored)
		}
	})
	w.poller.Refresh()
	return stored, nil
}

func containsID(msgs []models.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func withoutKey(msgs []models.Message, key string) []models.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.ClientKey == key && m.ID == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
