package data

import (
	"context"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database"
	"github.com/lk2023060901/vidgrab-bot/internal/stats/biz"
	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
	userdata "github.com/lk2023060901/vidgrab-bot/internal/user/data"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DailyStatPO represents the database model
type DailyStatPO struct {
	ID            uint       `gorm:"primarykey"`
	UserID        int64      `gorm:"not null;uniqueIndex:idx_daily_user_day,priority:1"`
	Day           time.Time  `gorm:"not null;uniqueIndex:idx_daily_user_day,priority:2;index"`
	Requests      int64      `gorm:"not null;default:0"`
	Successes     int64      `gorm:"not null;default:0"`
	Failures      int64      `gorm:"not null;default:0"`
	Bytes         int64      `gorm:"column:bytes_downloaded;not null;default:0"`
	LastRequestAt *time.Time
}

func (DailyStatPO) TableName() string {
	return "daily_user_stats"
}

// StatsRepo implements biz.StatsRepo interface
type StatsRepo struct {
	db *database.DB
}

func NewStatsRepo(db *database.DB) biz.StatsRepo {
	return &StatsRepo{db: db}
}

func (r *StatsRepo) IncrementDaily(ctx context.Context, userID int64, day time.Time, d biz.Delta, at time.Time) error {
	po := &DailyStatPO{
		UserID:    userID,
		Day:       day,
		Requests:  d.Requests,
		Successes: d.Successes,
		Failures:  d.Failures,
		Bytes:     d.Bytes,
	}

	updates := map[string]interface{}{
		"requests":         gorm.Expr("daily_user_stats.requests + ?", d.Requests),
		"successes":        gorm.Expr("daily_user_stats.successes + ?", d.Successes),
		"failures":         gorm.Expr("daily_user_stats.failures + ?", d.Failures),
		"bytes_downloaded": gorm.Expr("daily_user_stats.bytes_downloaded + ?", d.Bytes),
	}
	if d.Requests > 0 {
		po.LastRequestAt = &at
		updates["last_request_at"] = at
	}

	return r.db.GetDBFromContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(po).Error
}

func (r *StatsRepo) IncrementLifetime(ctx context.Context, userID int64, d biz.Delta, at time.Time) error {
	return userdata.IncrementCounters(r.db.GetDBFromContext(ctx), userID, d.Requests, d.Successes, d.Failures, at)
}

func (r *StatsRepo) IncrementPlatform(ctx context.Context, userID int64, platform string, n int64) error {
	return userdata.IncrementPlatform(r.db.GetDBFromContext(ctx), userID, platform, n)
}

// GetDaily returns nil without error when the user has no row for day
func (r *StatsRepo) GetDaily(ctx context.Context, userID int64, day time.Time) (*biz.DailyStat, error) {
	var po DailyStatPO
	err := r.db.GetDBFromContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return toDailyStat(&po), nil
}

func (r *StatsRepo) GetLifetime(ctx context.Context, userID int64) (*biz.Lifetime, error) {
	var user userdata.UserPO
	if err := r.db.GetDBFromContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, userbiz.ErrUserNotFound
		}
		return nil, err
	}

	var platforms []userdata.PlatformDownloadPO
	if err := r.db.GetDBFromContext(ctx).Where("user_id = ?", userID).Find(&platforms).Error; err != nil {
		return nil, err
	}

	l := &biz.Lifetime{
		FirstSeen:           user.FirstSeen,
		TotalRequests:       user.TotalRequests,
		SuccessfulDownloads: user.SuccessfulDownloads,
		FailedDownloads:     user.FailedDownloads,
		Platforms:           make(map[string]int64, len(platforms)),
	}
	for _, p := range platforms {
		l.Platforms[p.Platform] = p.Downloads
	}
	return l, nil
}

func (r *StatsRepo) SumBytes(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := r.db.GetDBFromContext(ctx).
		Model(&DailyStatPO{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(bytes_downloaded), 0)").
		Scan(&total).Error
	return total, err
}

func (r *StatsRepo) DeleteDailyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.GetDBFromContext(ctx).Where("day < ?", cutoff).Delete(&DailyStatPO{})
	return res.RowsAffected, res.Error
}

func toDailyStat(po *DailyStatPO) *biz.DailyStat {
	return &biz.DailyStat{
		UserID:        po.UserID,
		Day:           po.Day,
		Requests:      po.Requests,
		Successes:     po.Successes,
		Failures:      po.Failures,
		Bytes:         po.Bytes,
		LastRequestAt: po.LastRequestAt,
	}
}
