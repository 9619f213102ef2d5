package data

import (
	"context"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database"
	"github.com/lk2023060901/vidgrab-bot/internal/user/biz"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserPO represents the database model
type UserPO struct {
	ID        uint   `gorm:"primarykey"`
	UserID    int64  `gorm:"not null;uniqueIndex:idx_users_user_id"`
	ChatID    int64  `gorm:"not null;default:0"`
	Username  string `gorm:"size:64"`
	FirstName string `gorm:"size:128"`
	LastName  string `gorm:"size:128"`
	IsPremium bool   `gorm:"not null;default:false"`

	// 封禁
	IsBanned  bool   `gorm:"not null;default:false"`
	BanReason string `gorm:"size:255"`

	FirstSeen       time.Time `gorm:"not null"`
	LastInteraction time.Time `gorm:"not null;index"`

	// 累计计数，只通过原子自增修改
	TotalRequests       int64 `gorm:"not null;default:0"`
	SuccessfulDownloads int64 `gorm:"not null;default:0"`
	FailedDownloads     int64 `gorm:"not null;default:0"`
}

func (UserPO) TableName() string {
	return "users"
}

// PlatformDownloadPO holds per-platform lifetime download counts
type PlatformDownloadPO struct {
	ID        uint   `gorm:"primarykey"`
	UserID    int64  `gorm:"not null;uniqueIndex:idx_user_platform,priority:1"`
	Platform  string `gorm:"size:32;not null;uniqueIndex:idx_user_platform,priority:2"`
	Downloads int64  `gorm:"not null;default:0"`
}

func (PlatformDownloadPO) TableName() string {
	return "user_platform_downloads"
}

// UserRepo implements biz.UserRepo interface
type UserRepo struct {
	db *database.DB
}

func NewUserRepo(db *database.DB) biz.UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Upsert(ctx context.Context, p *biz.Profile, at time.Time) (*biz.User, error) {
	po := &UserPO{
		UserID:          p.UserID,
		ChatID:          p.ChatID,
		Username:        p.Username,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		IsPremium:       p.IsPremium,
		FirstSeen:       at,
		LastInteraction: at,
	}

	err := r.db.GetDBFromContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"chat_id", "username", "first_name", "last_name", "is_premium", "last_interaction",
		}),
	}).Create(po).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, p.UserID)
}

func (r *UserRepo) Get(ctx context.Context, userID int64) (*biz.User, error) {
	var po UserPO
	if err := r.db.GetDBFromContext(ctx).Where("user_id = ?", userID).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrUserNotFound
		}
		return nil, err
	}
	return toUser(&po), nil
}

func (r *UserRepo) SetBanned(ctx context.Context, userID int64, banned bool, reason string) error {
	res := r.db.GetDBFromContext(ctx).
		Model(&UserPO{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_banned":  banned,
			"ban_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return biz.ErrUserNotFound
	}
	return nil
}

// IncrementCounters atomically bumps lifetime counters, creating the row if
// the user has never been seen. Column names are table-qualified so the
// same statement works on postgres and sqlite.
func IncrementCounters(tx *gorm.DB, userID int64, requests, successes, failures int64, at time.Time) error {
	po := &UserPO{
		UserID:              userID,
		FirstSeen:           at,
		LastInteraction:     at,
		TotalRequests:       requests,
		SuccessfulDownloads: successes,
		FailedDownloads:     failures,
	}

	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_requests":       gorm.Expr("users.total_requests + ?", requests),
			"successful_downloads": gorm.Expr("users.successful_downloads + ?", successes),
			"failed_downloads":     gorm.Expr("users.failed_downloads + ?", failures),
			"last_interaction":     at,
		}),
	}).Create(po).Error
}

// IncrementPlatform atomically bumps the per-platform download counter
func IncrementPlatform(tx *gorm.DB, userID int64, platform string, n int64) error {
	po := &PlatformDownloadPO{
		UserID:    userID,
		Platform:  platform,
		Downloads: n,
	}

	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"downloads": gorm.Expr("user_platform_downloads.downloads + ?", n),
		}),
	}).Create(po).Error
}

func toUser(po *UserPO) *biz.User {
	return &biz.User{
		UserID:              po.UserID,
		ChatID:              po.ChatID,
		Username:            po.Username,
		FirstName:           po.FirstName,
		LastName:            po.LastName,
		IsPremium:           po.IsPremium,
		IsBanned:            po.IsBanned,
		BanReason:           po.BanReason,
		FirstSeen:           po.FirstSeen,
		LastInteraction:     po.LastInteraction,
		TotalRequests:       po.TotalRequests,
		SuccessfulDownloads: po.SuccessfulDownloads,
		FailedDownloads:     po.FailedDownloads,
	}
}
