package entitlement

import (
	"context"
	"time"
)

// SweeperConfig holds sweeper configuration
type SweeperConfig struct {
	// Interval between sweep passes (default: 1 minute)
	Interval time.Duration

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking sweeps (default: NoopMetrics)
	Metrics Metrics

	// Clock overrides wall-clock time, for tests (default: time.Now)
	Clock func() time.Time
}

// Sweeper periodically transitions stale active sessions to expired.
// This is hygiene for operational dashboards only: every read path
// re-validates ExpiresAt live, so a delayed or absent sweeper never
// produces an incorrect grant. It never takes the issuer's per-account
// locks and tolerates racing with queries.
type Sweeper struct {
	sessions SessionStore
	config   SweeperConfig
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper over the given session store
func NewSweeper(sessions SessionStore, config SweeperConfig) (*Sweeper, error) {
	if sessions == nil {
		return nil, ErrStorageUnavailable
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Sweeper{
		sessions: sessions,
		config:   config,
	}, nil
}

// Start launches the background sweep loop. Stop shuts it down.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
					s.config.Logger.Error("sweep failed", Field{Key: "error", Value: err.Error()})
				}
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// SweepOnce runs a single sweep pass and returns how many sessions it expired
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	expired, err := s.sessions.ExpireStale(ctx, s.config.Clock())
	s.config.Metrics.RecordSweep(expired, time.Since(start))
	if err != nil {
		return expired, err
	}
	if expired > 0 {
		s.config.Logger.Debug("sweep pass", Field{Key: "expired", Value: expired})
	}
	return expired, nil
}
