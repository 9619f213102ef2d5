package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database"
)

var (
	ErrRequestNotFound   = errors.New("download request not found")
	ErrInvalidTransition = errors.New("invalid download request status transition")
)

// Status of a download request. Transitions only move forward:
// pending -> completed | failed, completed -> sent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSent      Status = "sent"
)

// TerminalStatuses are eligible for retention cleanup
var TerminalStatuses = []Status{StatusCompleted, StatusFailed, StatusSent}

// predecessors lists the states each target may be entered from
var predecessors = map[Status][]Status{
	StatusCompleted: {StatusPending},
	StatusFailed:    {StatusPending},
	StatusSent:      {StatusCompleted},
}

const MediaTypeVideo = "video"

// LoadWindow is how far back Load counts recent requests
const LoadWindow = time.Minute

// Request is one download attempt
type Request struct {
	ID           string
	UserID       int64
	URL          string
	MediaType    string
	Platform     string
	Status       Status
	CreatedAt    time.Time
	CompletedAt  *time.Time
	SentAt       *time.Time
	ErrorMessage string
	FileSize     int64
	DownloadPath string
	Attempts     int
	LastAttempt  *time.Time
}

// Changes carries the columns a transition writes besides status
type Changes struct {
	CompletedAt  *time.Time
	SentAt       *time.Time
	ErrorMessage *string
	FileSize     *int64
	DownloadPath *string
}

// RequestRepo defines the interface for download request persistence
type RequestRepo interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)

	// Transition moves id to `to` only if its current status is in `from`,
	// bumping attempts and last_attempt. Returns ErrRequestNotFound or
	// ErrInvalidTransition when nothing was updated.
	Transition(ctx context.Context, id string, from []Status, to Status, c Changes, at time.Time) error

	// RecordSent inserts the (user, path) marker; a duplicate is a no-op
	// and reports inserted=false.
	RecordSent(ctx context.Context, userID int64, path string, at time.Time) (inserted bool, err error)

	CountByStatus(ctx context.Context, userID int64, status Status) (int64, error)
	CountSince(ctx context.Context, userID int64, since time.Time) (int64, error)

	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatsRecorder receives the counter updates each transition triggers
type StatsRecorder interface {
	RecordRequest(ctx context.Context, userID int64, at time.Time) error
	RecordSuccess(ctx context.Context, userID int64, platform string, size int64, at time.Time) error
	RecordFailure(ctx context.Context, userID int64, at time.Time) error
}

// Transactor runs fn in a transaction that repositories join through ctx
type Transactor interface {
	InTx(ctx context.Context, fn database.TxFunc) error
}

// Store is the download request state machine. Every transition and the
// counters it triggers commit or roll back together.
type Store struct {
	repo  RequestRepo
	stats StatsRecorder
	tx    Transactor
	now   func() time.Time
}

func NewStore(repo RequestRepo, stats StatsRecorder, tx Transactor) *Store {
	return &Store{
		repo:  repo,
		stats: stats,
		tx:    tx,
		now:   time.Now,
	}
}

// Create stores a pending request and counts it
func (s *Store) Create(ctx context.Context, userID int64, url, platform string) (*Request, error) {
	now := s.now().UTC()
	req := &Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		URL:       url,
		MediaType: MediaTypeVideo,
		Platform:  platform,
		Status:    StatusPending,
		CreatedAt: now,
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, req); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return s.stats.RecordRequest(ctx, userID, now)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Complete records a finished download of size bytes at path
func (s *Store) Complete(ctx context.Context, id string, size int64, path string) error {
	now := s.now().UTC()

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}

		err = s.repo.Transition(ctx, id, predecessors[StatusCompleted], StatusCompleted, Changes{
			CompletedAt:  &now,
			FileSize:     &size,
			DownloadPath: &path,
		}, now)
		if err != nil {
			return err
		}
		return s.stats.RecordSuccess(ctx, req.UserID, req.Platform, size, now)
	})
}

// Fail records the failure message
func (s *Store) Fail(ctx context.Context, id string, message string) error {
	now := s.now().UTC()

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}

		err = s.repo.Transition(ctx, id, predecessors[StatusFailed], StatusFailed, Changes{
			ErrorMessage: &message,
		}, now)
		if err != nil {
			return err
		}
		return s.stats.RecordFailure(ctx, req.UserID, now)
	})
}

// MarkSent confirms delivery of a completed request and records the
// (user, path) de-duplication marker.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	now := s.now().UTC()

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		req, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}

		err = s.repo.Transition(ctx, id, predecessors[StatusSent], StatusSent, Changes{SentAt: &now}, now)
		if err != nil {
			return err
		}

		_, err = s.repo.RecordSent(ctx, req.UserID, req.DownloadPath, now)
		return err
	})
}

func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	return s.repo.Get(ctx, id)
}

// CountPending returns how many of the user's requests are still pending
func (s *Store) CountPending(ctx context.Context, userID int64) (int64, error) {
	return s.repo.CountByStatus(ctx, userID, StatusPending)
}

// CountRecent returns how many requests the user created since `since`
func (s *Store) CountRecent(ctx context.Context, userID int64, since time.Time) (int64, error) {
	return s.repo.CountSince(ctx, userID, since.UTC())
}

// Load is the user's current download pressure
type Load struct {
	PendingDownloads int64
	RecentRequests   int64
}

// Load counts pending requests and those created in the last LoadWindow
func (s *Store) Load(ctx context.Context, userID int64) (*Load, error) {
	pending, err := s.CountPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	recent, err := s.CountRecent(ctx, userID, s.now().Add(-LoadWindow))
	if err != nil {
		return nil, fmt.Errorf("count recent: %w", err)
	}
	return &Load{PendingDownloads: pending, RecentRequests: recent}, nil
}

// PurgeBefore deletes terminal requests and sent markers older than cutoff
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (requests, sent int64, err error) {
	requests, err = s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("purge requests: %w", err)
	}
	sent, err = s.repo.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		return requests, 0, fmt.Errorf("purge sent markers: %w", err)
	}
	return requests, sent, nil
}
