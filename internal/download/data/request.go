package data

import (
	"context"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/download/biz"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestPO represents the database model
type RequestPO struct {
	ID           string    `gorm:"type:varchar(36);primarykey"`
	UserID       int64     `gorm:"not null;index"`
	URL          string    `gorm:"type:text;not null"`
	MediaType    string    `gorm:"size:16;not null;default:'video'"`
	Platform     string    `gorm:"size:32;not null"`
	Status       string    `gorm:"size:16;not null;index"`
	CreatedAt    time.Time `gorm:"not null;index"`
	CompletedAt  *time.Time
	SentAt       *time.Time
	ErrorMessage *string `gorm:"type:text"`
	FileSize     *int64
	DownloadPath *string `gorm:"type:text"`
	Attempts     int     `gorm:"not null;default:0"`
	LastAttempt  *time.Time
}

func (RequestPO) TableName() string {
	return "download_requests"
}

// SentVideoPO marks a file as delivered to a user
type SentVideoPO struct {
	ID       uint      `gorm:"primarykey"`
	UserID   int64     `gorm:"not null;uniqueIndex:idx_sent_user_path,priority:1"`
	FilePath string    `gorm:"size:512;not null;uniqueIndex:idx_sent_user_path,priority:2"`
	SentAt   time.Time `gorm:"not null;index"`
}

func (SentVideoPO) TableName() string {
	return "sent_videos"
}

// RequestRepo implements biz.RequestRepo interface
type RequestRepo struct {
	db *database.DB
}

func NewRequestRepo(db *database.DB) biz.RequestRepo {
	return &RequestRepo{db: db}
}

func (r *RequestRepo) Create(ctx context.Context, req *biz.Request) error {
	return r.db.GetDBFromContext(ctx).Create(toRequestPO(req)).Error
}

func (r *RequestRepo) Get(ctx context.Context, id string) (*biz.Request, error) {
	var po RequestPO
	if err := r.db.GetDBFromContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrRequestNotFound
		}
		return nil, err
	}
	return toRequest(&po), nil
}

func (r *RequestRepo) Transition(ctx context.Context, id string, from []biz.Status, to biz.Status, c biz.Changes, at time.Time) error {
	updates := map[string]interface{}{
		"status":       string(to),
		"attempts":     gorm.Expr("attempts + 1"),
		"last_attempt": at,
	}
	if c.CompletedAt != nil {
		updates["completed_at"] = *c.CompletedAt
	}
	if c.SentAt != nil {
		updates["sent_at"] = *c.SentAt
	}
	if c.ErrorMessage != nil {
		updates["error_message"] = *c.ErrorMessage
	}
	if c.FileSize != nil {
		updates["file_size"] = *c.FileSize
	}
	if c.DownloadPath != nil {
		updates["download_path"] = *c.DownloadPath
	}

	db := r.db.GetDBFromContext(ctx)
	res := db.Model(&RequestPO{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := db.Model(&RequestPO{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return biz.ErrRequestNotFound
	}
	return biz.ErrInvalidTransition
}

func (r *RequestRepo) RecordSent(ctx context.Context, userID int64, path string, at time.Time) (bool, error) {
	res := r.db.GetDBFromContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&SentVideoPO{UserID: userID, FilePath: path, SentAt: at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *RequestRepo) CountByStatus(ctx context.Context, userID int64, status biz.Status) (int64, error) {
	var n int64
	err := r.db.GetDBFromContext(ctx).
		Model(&RequestPO{}).
		Where("user_id = ? AND status = ?", userID, string(status)).
		Count(&n).Error
	return n, err
}

func (r *RequestRepo) CountSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var n int64
	err := r.db.GetDBFromContext(ctx).
		Model(&RequestPO{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	return n, err
}

func (r *RequestRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.GetDBFromContext(ctx).
		Where("status IN ? AND created_at < ?", statusStrings(biz.TerminalStatuses), cutoff).
		Delete(&RequestPO{})
	return res.RowsAffected, res.Error
}

func (r *RequestRepo) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.GetDBFromContext(ctx).
		Where("sent_at < ?", cutoff).
		Delete(&SentVideoPO{})
	return res.RowsAffected, res.Error
}

func statusStrings(ss []biz.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func toRequestPO(req *biz.Request) *RequestPO {
	po := &RequestPO{
		ID:          req.ID,
		UserID:      req.UserID,
		URL:         req.URL,
		MediaType:   req.MediaType,
		Platform:    req.Platform,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
		CompletedAt: req.CompletedAt,
		SentAt:      req.SentAt,
		Attempts:    req.Attempts,
		LastAttempt: req.LastAttempt,
	}
	if req.ErrorMessage != "" {
		po.ErrorMessage = &req.ErrorMessage
	}
	if req.FileSize != 0 {
		po.FileSize = &req.FileSize
	}
	if req.DownloadPath != "" {
		po.DownloadPath = &req.DownloadPath
	}
	return po
}

func toRequest(po *RequestPO) *biz.Request {
	req := &biz.Request{
		ID:          po.ID,
		UserID:      po.UserID,
		URL:         po.URL,
		MediaType:   po.MediaType,
		Platform:    po.Platform,
		Status:      biz.Status(po.Status),
		CreatedAt:   po.CreatedAt,
		CompletedAt: po.CompletedAt,
		SentAt:      po.SentAt,
		Attempts:    po.Attempts,
		LastAttempt: po.LastAttempt,
	}
	if po.ErrorMessage != nil {
		req.ErrorMessage = *po.ErrorMessage
	}
	if po.FileSize != nil {
		req.FileSize = *po.FileSize
	}
	if po.DownloadPath != nil {
		req.DownloadPath = *po.DownloadPath
	}
	return req
}
