package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultSweepInterval = time.Second

// Sweeper removes dead connections and reports how many it removed.
type Sweeper interface {
	Sweep() int
}

// Supervisor periodically sweeps a server. It never revives a connection.
type Supervisor struct {
	target   Sweeper
	interval time.Duration
	logger   zerolog.Logger
}

func NewSupervisor(target Sweeper, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Supervisor{
		target:   target,
		interval: interval,
		logger:   log.With().Str("component", "supervisor").Logger(),
	}
}

func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.target.Sweep(); n > 0 {
				s.logger.Debug().Int("removed", n).Msg("Swept dead connections")
			}
		}
	}
}
