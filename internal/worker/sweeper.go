// Package worker runs the periodic background jobs of the service.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
)

// SweepFunc times out expired peer stock requests.
type SweepFunc func(ctx context.Context) (stock.SweepResult, error)

// Sweeper calls a SweepFunc on a fixed interval until its context is
// cancelled. Runs never overlap.
type Sweeper struct {
	sweep    SweepFunc
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	running bool
}

func NewSweeper(sweep SweepFunc, interval time.Duration) *Sweeper {
	timeout := interval
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Sweeper{sweep: sweep, interval: interval, timeout: timeout}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Stock request sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stock request sweeper stopped")
			return
		case <-ticker.C:
			_, _, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep unless one is already in progress, in which
// case it returns false.
func (s *Sweeper) RunOnce(ctx context.Context) (stock.SweepResult, bool, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Debug().Msg("Sweep already in progress, skipping")
		return stock.SweepResult{}, false, nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.sweep(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("Stock request sweep failed")
		return res, true, err
	}
	return res, true, nil
}
