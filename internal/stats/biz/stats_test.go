package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind     string
	day      time.Time
	delta    Delta
	platform string
}

type recordingRepo struct {
	calls []call
	err   error
	daily *DailyStat
}

func (r *recordingRepo) IncrementDaily(_ context.Context, _ int64, day time.Time, d Delta, _ time.Time) error {
	r.calls = append(r.calls, call{kind: "daily", day: day, delta: d})
	return r.err
}

func (r *recordingRepo) IncrementLifetime(_ context.Context, _ int64, d Delta, _ time.Time) error {
	r.calls = append(r.calls, call{kind: "lifetime", delta: d})
	return r.err
}

func (r *recordingRepo) IncrementPlatform(_ context.Context, _ int64, platform string, n int64) error {
	r.calls = append(r.calls, call{kind: "platform", platform: platform, delta: Delta{Successes: n}})
	return r.err
}

func (r *recordingRepo) GetDaily(context.Context, int64, time.Time) (*DailyStat, error) {
	return r.daily, nil
}

func (r *recordingRepo) GetLifetime(context.Context, int64) (*Lifetime, error) {
	return &Lifetime{TotalRequests: 4}, nil
}

func (r *recordingRepo) SumBytes(context.Context, int64) (int64, error) {
	return 1024, nil
}

func (r *recordingRepo) DeleteDailyBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestDayIsUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	at := time.Date(2024, 5, 2, 3, 0, 0, 0, loc) // 2024-05-01 19:00 UTC
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Day(at))
}

func TestRecordSuccess(t *testing.T) {
	repo := &recordingRepo{}
	agg := NewAggregator(repo)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, agg.RecordSuccess(context.Background(), 1, "youtube", 2048, at))
	assert.Equal(t, []call{
		{kind: "lifetime", delta: Delta{Successes: 1}},
		{kind: "platform", platform: "youtube", delta: Delta{Successes: 1}},
		{kind: "daily", day: Day(at), delta: Delta{Successes: 1, Bytes: 2048}},
	}, repo.calls)
}

func TestRecordSuccessWithoutSize(t *testing.T) {
	repo := &recordingRepo{}
	agg := NewAggregator(repo)

	require.NoError(t, agg.RecordSuccess(context.Background(), 1, "", -1, time.Now()))
	require.Len(t, repo.calls, 2)
	assert.Equal(t, Delta{Successes: 1}, repo.calls[1].delta)
}

func TestRecordStopsOnError(t *testing.T) {
	repo := &recordingRepo{err: errors.New("db down")}
	agg := NewAggregator(repo)

	assert.Error(t, agg.RecordFailure(context.Background(), 1, time.Now()))
	assert.Len(t, repo.calls, 1)
}

func TestSummaryWithoutActivityToday(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	agg := NewAggregator(&recordingRepo{})
	agg.now = func() time.Time { return fixed }

	s, err := agg.Summary(context.Background(), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 4, s.Lifetime.TotalRequests)
	assert.EqualValues(t, 1024, s.TotalBytes)
	assert.Equal(t, Day(fixed), s.Today.Day)
	assert.Zero(t, s.Today.Requests)
}
