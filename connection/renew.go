package connection

import (
	"context"
	"errors"
	"time"

	units "github.com/docker/go-units"
)

// Schedule controls RunRenewal.
type Schedule struct {
	// Time between renewals. Defaults to the auth mode's refresh interval.
	Interval time.Duration
	// For time.Ticker ticks. Replaces the ticker RunRenewal would otherwise
	// create from Interval.
	TickCh <-chan time.Time
	// Number of renewal cycles to perform before returning. Used for
	// testing.
	IterationLimit uint
}

// RunRenewal calls Renew and then DrainRetired every tick until ctx is done,
// and returns ctx's error. A failed renewal is logged and the loop goes on
// with the current connection.
func (m *Manager) RunRenewal(ctx context.Context, s Schedule) error {
	tickCh := s.TickCh
	interval := s.Interval
	if interval <= 0 {
		interval = m.auth.RefreshInterval()
	}

	// Implement the iteration limit without a tick channel by pre-loading a
	// buffered channel with ticks.
	if tickCh == nil && s.IterationLimit > 0 {
		ch := make(chan time.Time, s.IterationLimit)
		for i := uint(0); i < s.IterationLimit; i++ {
			ch <- time.Time{}
		}
		tickCh = ch
	}

	if tickCh == nil {
		if interval <= 0 {
			return errors.New("can't renew connections without a renewal interval")
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		tickCh = t.C
		m.log.Info().
			Str("interval", units.HumanDuration(interval)).
			Msg("renewing store connections periodically")
	}

	for i := uint(0); s.IterationLimit == 0 || i < s.IterationLimit; i++ {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("stopped renewing store connections")
			return ctx.Err()
		case <-tickCh:
			m.renewCycle(ctx)
		}
	}
	return nil
}

func (m *Manager) renewCycle(ctx context.Context) {
	// Renew logs its own failures
	_ = m.Renew(ctx)
	if err := m.DrainRetired(); err != nil {
		m.log.Error().Err(err).Msg("can't close a retired store connection")
	}
}

// Start runs RunRenewal in the background when the auth mode's credentials
// expire, and reports whether it did. Cancel ctx to stop renewing.
func (m *Manager) Start(ctx context.Context) bool {
	if !m.auth.RequiresRenewal() {
		m.log.Debug().Msg("credentials don't expire, not renewing store connections")
		return false
	}
	go func() {
		err := m.RunRenewal(ctx, Schedule{})
		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error().Err(err).Msg("connection renewal stopped")
		}
	}()
	return true
}
