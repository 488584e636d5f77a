// Package dispatch runs the background loop that fires due schedule
// entries against the connection pool.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"rconflow/internal/domain"
	"rconflow/internal/schedule"
)

// Broadcaster fans a command out to every usable remote connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, command string) []domain.Outcome
}

// Service wakes on a fixed tick, dispatches every due entry to the pool,
// and advances each entry's next fire time. The tick interval bounds
// scheduling fidelity: an every-minute entry is checked at most once per
// tick. No entry or connection failure ever stops the loop; only Stop or
// context cancellation does.
type Service struct {
	table    *schedule.Table
	pool     Broadcaster
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration
}

func NewService(table *schedule.Table, pool Broadcaster, tick time.Duration) *Service {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Service{
		table:    table,
		pool:     pool,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: tick,
	}
}

// Start runs the dispatch loop until ctx is cancelled or Stop is called.
// It is meant to run on its own goroutine.
func (s *Service) Start(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.processDue(ctx, now.UTC())
		}
	}
}

// Stop signals the loop to finish and waits for it, bounded by the grace
// period. It reports whether the loop exited within the grace.
func (s *Service) Stop(grace time.Duration) bool {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	select {
	case <-s.done:
		log.Info().Msg("dispatcher stopped")
		return true
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("dispatcher did not stop within grace period")
		return false
	}
}

// processDue snapshots the due set first, so operator add/remove between
// ticks never corrupts in-flight iteration, then dispatches in insertion
// order.
func (s *Service) processDue(ctx context.Context, now time.Time) {
	due := s.table.Due(now)
	for _, entry := range due {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}
		s.dispatch(ctx, entry, now)
	}
}

func (s *Service) dispatch(ctx context.Context, entry schedule.Entry, now time.Time) {
	outcomes := s.pool.Broadcast(ctx, entry.Command)

	executed := 0
	for _, o := range outcomes {
		if o.Kind == domain.OutcomeSuccess {
			executed++
		}
	}
	log.Info().
		Str("entry_id", entry.ID).
		Str("command", entry.Command).
		Int("executed", executed).
		Int("slots", len(outcomes)).
		Msg("entry dispatched")

	// The next fire advances whether or not any slot succeeded: a failed
	// fire waits for its next scheduled occurrence, it is never retried
	// within the tick.
	next := entry.Rule.Next(now)
	s.table.Advance(entry.ID, next)
	log.Info().Str("entry_id", entry.ID).Time("next_fire", next).Msg("next fire scheduled")
}
