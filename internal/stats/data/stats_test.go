package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database/dbtest"
	"github.com/lk2023060901/vidgrab-bot/internal/stats/biz"
	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
	userdata "github.com/lk2023060901/vidgrab-bot/internal/user/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*StatsRepo, func() int64) {
	db := dbtest.New(t, &userdata.UserPO{}, &userdata.PlatformDownloadPO{}, &DailyStatPO{})
	count := func() int64 {
		var n int64
		require.NoError(t, db.Model(&DailyStatPO{}).Count(&n).Error)
		return n
	}
	return NewStatsRepo(db).(*StatsRepo), count
}

func TestIncrementDailyIsSingleRowPerDay(t *testing.T) {
	repo, count := newRepo(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)
	day := biz.Day(at)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.IncrementDaily(ctx, 1, day, biz.Delta{Requests: 1, Bytes: 10}, at))
		}()
	}
	wg.Wait()

	require.NoError(t, repo.IncrementDaily(ctx, 1, day, biz.Delta{Failures: 1}, at))
	assert.EqualValues(t, 1, count())

	got, err := repo.GetDaily(ctx, 1, day)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 25, got.Requests)
	assert.EqualValues(t, 1, got.Failures)
	assert.EqualValues(t, 250, got.Bytes)
	require.NotNil(t, got.LastRequestAt)
	assert.True(t, got.LastRequestAt.Equal(at))

	// next day gets its own row
	next := day.Add(24 * time.Hour)
	require.NoError(t, repo.IncrementDaily(ctx, 1, next, biz.Delta{Requests: 1}, next))
	assert.EqualValues(t, 2, count())

	missing, err := repo.GetDaily(ctx, 2, day)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAggregatorSummary(t *testing.T) {
	repo, _ := newRepo(t)
	agg := biz.NewAggregator(repo)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, agg.RecordRequest(ctx, 3, now))
	require.NoError(t, agg.RecordSuccess(ctx, 3, "youtube", 20<<20, now))
	require.NoError(t, agg.RecordRequest(ctx, 3, now))
	require.NoError(t, agg.RecordFailure(ctx, 3, now))

	old := now.AddDate(0, 0, -3)
	require.NoError(t, agg.RecordRequest(ctx, 3, old))
	require.NoError(t, agg.RecordSuccess(ctx, 3, "tiktok", 5<<20, old))

	s, err := agg.Summary(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.Lifetime.TotalRequests)
	assert.EqualValues(t, 2, s.Lifetime.SuccessfulDownloads)
	assert.EqualValues(t, 1, s.Lifetime.FailedDownloads)
	assert.Equal(t, map[string]int64{"youtube": 1, "tiktok": 1}, s.Lifetime.Platforms)
	assert.EqualValues(t, 25<<20, s.TotalBytes)
	assert.EqualValues(t, 2, s.Today.Requests)
	assert.EqualValues(t, 1, s.Today.Successes)
	assert.EqualValues(t, 1, s.Today.Failures)

	_, err = agg.Summary(ctx, 999)
	assert.ErrorIs(t, err, userbiz.ErrUserNotFound)
}

func TestDeleteDailyBefore(t *testing.T) {
	repo, count := newRepo(t)
	ctx := context.Background()
	now := biz.Day(time.Now())

	for _, age := range []int{0, 29, 31, 45} {
		day := now.AddDate(0, 0, -age)
		require.NoError(t, repo.IncrementDaily(ctx, 1, day, biz.Delta{Requests: 1}, day))
	}

	n, err := repo.DeleteDailyBefore(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.EqualValues(t, 2, count())
}
