package biz

import (
	"context"
	"time"
)

// Delta is a set of increments applied to a user's counters in one write
type Delta struct {
	Requests  int64
	Successes int64
	Failures  int64
	Bytes     int64
}

// DailyStat is one user's activity for one UTC day
type DailyStat struct {
	UserID        int64
	Day           time.Time
	Requests      int64
	Successes     int64
	Failures      int64
	Bytes         int64
	LastRequestAt *time.Time
}

// Lifetime holds the never-deleted counters kept on the user
type Lifetime struct {
	FirstSeen           time.Time
	TotalRequests       int64
	SuccessfulDownloads int64
	FailedDownloads     int64
	Platforms           map[string]int64
}

// Summary is what /stats and the ops endpoint show
type Summary struct {
	UserID     int64
	Lifetime   Lifetime
	TotalBytes int64
	Today      DailyStat
}

// StatsRepo persists counters. Every method must be an atomic
// increment (upsert) so concurrent writers never lose updates.
type StatsRepo interface {
	IncrementDaily(ctx context.Context, userID int64, day time.Time, d Delta, at time.Time) error
	IncrementLifetime(ctx context.Context, userID int64, d Delta, at time.Time) error
	IncrementPlatform(ctx context.Context, userID int64, platform string, n int64) error

	GetDaily(ctx context.Context, userID int64, day time.Time) (*DailyStat, error)
	GetLifetime(ctx context.Context, userID int64) (*Lifetime, error)
	SumBytes(ctx context.Context, userID int64) (int64, error)

	DeleteDailyBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Day truncates t to its UTC midnight
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Aggregator maintains lifetime and per-day counters
type Aggregator struct {
	repo StatsRepo
	now  func() time.Time
}

func NewAggregator(repo StatsRepo) *Aggregator {
	return &Aggregator{repo: repo, now: time.Now}
}

// RecordRequest counts an accepted request
func (a *Aggregator) RecordRequest(ctx context.Context, userID int64, at time.Time) error {
	d := Delta{Requests: 1}
	if err := a.repo.IncrementLifetime(ctx, userID, d, at); err != nil {
		return err
	}
	return a.repo.IncrementDaily(ctx, userID, Day(at), d, at)
}

// RecordSuccess counts a completed download of size bytes from platform
func (a *Aggregator) RecordSuccess(ctx context.Context, userID int64, platform string, size int64, at time.Time) error {
	d := Delta{Successes: 1}
	if size > 0 {
		d.Bytes = size
	}
	if err := a.repo.IncrementLifetime(ctx, userID, Delta{Successes: 1}, at); err != nil {
		return err
	}
	if platform != "" {
		if err := a.repo.IncrementPlatform(ctx, userID, platform, 1); err != nil {
			return err
		}
	}
	return a.repo.IncrementDaily(ctx, userID, Day(at), d, at)
}

// RecordFailure counts a failed download
func (a *Aggregator) RecordFailure(ctx context.Context, userID int64, at time.Time) error {
	d := Delta{Failures: 1}
	if err := a.repo.IncrementLifetime(ctx, userID, d, at); err != nil {
		return err
	}
	return a.repo.IncrementDaily(ctx, userID, Day(at), d, at)
}

// Summary collects lifetime, retained-bytes and today's counters
func (a *Aggregator) Summary(ctx context.Context, userID int64) (*Summary, error) {
	lifetime, err := a.repo.GetLifetime(ctx, userID)
	if err != nil {
		return nil, err
	}

	total, err := a.repo.SumBytes(ctx, userID)
	if err != nil {
		return nil, err
	}

	today := Day(a.now())
	daily, err := a.repo.GetDaily(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	if daily == nil {
		daily = &DailyStat{UserID: userID, Day: today}
	}

	return &Summary{
		UserID:     userID,
		Lifetime:   *lifetime,
		TotalBytes: total,
		Today:      *daily,
	}, nil
}

// PurgeBefore deletes daily rows older than cutoff
func (a *Aggregator) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.repo.DeleteDailyBefore(ctx, cutoff)
}
