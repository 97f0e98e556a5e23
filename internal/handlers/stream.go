package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"consultation-queue-server/internal/apperrors"
	"consultation-queue-server/internal/events"
	"consultation-queue-server/internal/lifecycle"
	"consultation-queue-server/internal/queue"
	"consultation-queue-server/internal/utils"
)

// Stream event names.
const (
	EventPosition = "position"
	EventTurn     = "turn"
	EventClosed   = "closed"
	EventError    = "error"
)

// StreamHandler pushes queue positions over server-sent events.
type StreamHandler struct {
	svc    StreamService
	resync time.Duration
	logger zerolog.Logger
}

// NewStreamHandler creates a StreamHandler. resync is how often the
// position is recomputed without any event; it doubles as the keepalive.
func NewStreamHandler(svc StreamService, resync time.Duration, logger zerolog.Logger) *StreamHandler {
	if resync <= 0 {
		resync = 15 * time.Second
	}
	return &StreamHandler{svc: svc, resync: resync, logger: logger}
}

// StreamAppointment sends the caller's position on connect and after every
// change to the appointment, its doctor's day or the doctor's availability.
// Events only trigger a recompute; the payload is always read fresh. The
// stream ends once the appointment leaves the queue, is deleted, or stops
// being visible to the caller.
func (h *StreamHandler) StreamAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()

	pos, err := h.svc.QueuePosition(ctx, actor, id)
	if err != nil {
		utils.AppError(c, err)
		return
	}
	sub := &subscription{}
	defer sub.stop()
	if err := sub.start(ctx, h.svc, actor, id); err != nil {
		utils.AppError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.resync)
	defer ticker.Stop()

	var turn queue.TurnDetector
	date := pos.QueueDate
	first := true

	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			return h.send(c, &turn, pos)
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		case _, ok := <-sub.updates:
			if !ok {
				return false
			}
		}

		next, err := h.svc.QueuePosition(ctx, actor, id)
		if err != nil {
			return h.fail(c, err)
		}
		if next.QueueDate != date {
			// Rescheduled to another day: follow the new queue.
			sub.stop()
			if err := sub.start(ctx, h.svc, actor, id); err != nil {
				return h.fail(c, err)
			}
			date = next.QueueDate
		}
		return h.send(c, &turn, next)
	})
}

func (h *StreamHandler) send(c *gin.Context, turn *queue.TurnDetector, pos queue.Position) bool {
	c.SSEvent(EventPosition, pos)
	if turn.Observe(pos.IsYourTurn) {
		c.SSEvent(EventTurn, gin.H{"appointmentId": pos.AppointmentID, "meetLink": pos.MeetLink})
	}
	if !queue.Occupies(pos.AppointmentStatus) {
		c.SSEvent(EventClosed, gin.H{"appointmentId": pos.AppointmentID, "status": pos.AppointmentStatus})
		return false
	}
	return true
}

// fail reports a recompute error to the client. The stream only ends when
// the appointment is gone or no longer visible to the caller; anything else
// is retried on the next event or resync tick.
func (h *StreamHandler) fail(c *gin.Context, err error) bool {
	_, code := apperrors.Map(err)
	if code == "internal_error" {
		h.logger.Error().Err(err).Str("appointment_id", c.Param("id")).Msg("stream recompute")
	}
	c.SSEvent(EventError, gin.H{"code": code})
	return !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrForbidden)
}

// subscription holds the current Watch. A nil updates channel never fires,
// which leaves the resync ticker as the only trigger.
type subscription struct {
	updates <-chan events.Event
	cancel  context.CancelFunc
}

func (s *subscription) start(ctx context.Context, svc StreamService, actor lifecycle.Actor, id string) error {
	watchCtx, cancel := context.WithCancel(ctx)
	updates, err := svc.Watch(watchCtx, actor, id)
	if err != nil {
		cancel()
		return err
	}
	s.updates, s.cancel = updates, cancel
	return nil
}

func (s *subscription) stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.updates = nil
}
