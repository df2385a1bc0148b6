// Package worker runs the periodic room jobs: the stale-room reaper and
// per-room heartbeats.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StaleCloser closes rooms whose heartbeat is older than a cutoff.
type StaleCloser interface {
	CloseStaleRooms(ctx context.Context, olderThan time.Duration) int
}

// Heartbeater refreshes a room's liveness.
type Heartbeater interface {
	SendHeartbeat(ctx context.Context, roomID string) bool
}

// Scheduler wraps a gocron scheduler. Jobs run with a per-run timeout
// derived from their interval.
type Scheduler struct {
	sched gocron.Scheduler
}

// New creates a stopped scheduler.
func New() (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{sched: sched}, nil
}

// Start starts running jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.sched.Jobs())
}

// ScheduleReaper closes rooms idle for longer than staleAfter, every
// interval. Overlapping runs are skipped.
func (s *Scheduler) ScheduleReaper(rooms StaleCloser, staleAfter, every time.Duration) error {
	if staleAfter <= 0 || every <= 0 {
		return fmt.Errorf("reaper intervals must be positive (stale_after=%s, every=%s)", staleAfter, every)
	}
	_, err := s.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), every)
			defer cancel()
			if n := rooms.CloseStaleRooms(ctx, staleAfter); n > 0 {
				log.Info().Int("closed", n).Msg("Reaper closed stale rooms")
			}
		}),
		gocron.WithName("stale-room-reaper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reaper: %w", err)
	}
	log.Info().Dur("stale_after", staleAfter).Dur("every", every).Msg("Stale room reaper scheduled")
	return nil
}

// StartHeartbeat sends a heartbeat for roomID immediately and then every
// interval until stop is called.
func (s *Scheduler) StartHeartbeat(rooms Heartbeater, roomID string, every time.Duration) (stop func(), err error) {
	if every <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive, got %s", every)
	}
	job, err := s.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), every)
			defer cancel()
			if !rooms.SendHeartbeat(ctx, roomID) {
				log.Debug().Str("room_id", roomID).Msg("Heartbeat not applied")
			}
		}),
		gocron.WithName("heartbeat-"+roomID),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	id := job.ID()
	return func() { s.remove(id, roomID) }, nil
}

func (s *Scheduler) remove(id uuid.UUID, roomID string) {
	if err := s.sched.RemoveJob(id); err != nil {
		log.Debug().Err(err).Str("room_id", roomID).Msg("Heartbeat already stopped")
	}
}
