// Package retention periodically deletes expired download history.
package retention

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
	"go.uber.org/zap"
)

// RequestPurger deletes terminal requests and sent markers older than cutoff
type RequestPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (requests, sent int64, err error)
}

// StatsPurger deletes daily stat rows older than cutoff
type StatsPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner drops idle in-memory entries, e.g. rate-limit windows
type Pruner interface {
	Prune() int
}

type Config struct {
	Days          int
	Interval      time.Duration
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Days <= 0 {
		c.Days = 30
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Hour
	}
	return c
}

// Report counts what one sweep removed
type Report struct {
	Cutoff       time.Time
	Requests     int64
	SentVideos   int64
	DailyStats   int64
	PrunedLimits int
}

// Sweeper never deletes users or lifetime counters.
type Sweeper struct {
	config   Config
	requests RequestPurger
	stats    StatsPurger
	pruners  []Pruner
	logger   *logger.Logger
	now      func() time.Time

	runOnce sync.Once
	hasRun  atomic.Bool
}

func NewSweeper(config Config, requests RequestPurger, stats StatsPurger, log *logger.Logger, pruners ...Pruner) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		config:   config.withDefaults(),
		requests: requests,
		stats:    stats,
		pruners:  pruners,
		logger:   log.Named("retention"),
		now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled: every Interval after a clean sweep,
// every RetryInterval after a failed one. It may only be called once.
func (s *Sweeper) Run(ctx context.Context) {
	wasAlreadyRun := s.hasRun.Load()

	s.runOnce.Do(func() {
		s.hasRun.Store(true)

		s.logger.Info("starting retention sweeper",
			zap.Int("days", s.config.Days),
			zap.Duration("interval", s.config.Interval),
		)

		for {
			if ctx.Err() != nil {
				return
			}

			wait := s.config.Interval
			if _, err := s.SweepOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("retention sweep failed", zap.Error(err))
				wait = s.config.RetryInterval
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("retention sweeper stopped")
				return
			case <-timer.C:
			}
		}
	})

	if wasAlreadyRun {
		panic(fmt.Sprintf("%T.Run() called multiple times", s))
	}
}

// SweepOnce deletes everything older than the retention window
func (s *Sweeper) SweepOnce(ctx context.Context) (*Report, error) {
	report := &Report{Cutoff: s.now().UTC().AddDate(0, 0, -s.config.Days)}

	for _, p := range s.pruners {
		report.PrunedLimits += p.Prune()
	}

	var err error
	report.Requests, report.SentVideos, err = s.requests.PurgeBefore(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("purge requests: %w", err)
	}

	report.DailyStats, err = s.stats.PurgeBefore(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("purge daily stats: %w", err)
	}

	s.logger.Info("retention sweep done",
		zap.Time("cutoff", report.Cutoff),
		zap.Int64("requests", report.Requests),
		zap.Int64("sent_videos", report.SentVideos),
		zap.Int64("daily_stats", report.DailyStats),
		zap.Int("pruned_limits", report.PrunedLimits),
	)
	return report, nil
}
