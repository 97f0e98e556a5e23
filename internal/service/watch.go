package service

import (
	"context"
	"sync"

	"consultation-queue-server/internal/events"
	"consultation-queue-server/internal/lifecycle"
)

// Watch subscribes to every channel that can change the caller's view of an
// appointment: its own updates and messages, its doctor's day, and the
// doctor's availability. The returned channel closes when ctx ends. When the
// appointment moves to another day the caller must Watch again.
func (s *Service) Watch(ctx context.Context, actor lifecycle.Actor, appointmentID string) (<-chan events.Event, error) {
	if s.bus == nil {
		return nil, nil
	}
	appt, err := s.GetAppointment(ctx, actor, appointmentID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	channels := []string{
		events.AppointmentChannel(appt.ID),
		events.QueueChannel(appt.DoctorID, appt.QueueDate),
		events.DoctorChannel(appt.DoctorID),
	}
	var sources []<-chan events.Event
	for _, ch := range channels {
		src, err := s.bus.Subscribe(ctx, ch)
		if err != nil {
			cancel()
			return nil, err
		}
		sources = append(sources, src)
	}

	out := make(chan events.Event, len(sources))
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src <-chan events.Event) {
			defer wg.Done()
			for ev := range src {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()
	return out, nil
}
