package biz

import (
	"context"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// User is a chat user as tracked by the bot
type User struct {
	UserID    int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
	IsPremium bool

	IsBanned  bool
	BanReason string

	FirstSeen       time.Time
	LastInteraction time.Time

	TotalRequests       int64
	SuccessfulDownloads int64
	FailedDownloads     int64
}

// DisplayName picks the most readable identifier for logs and replies
func (u *User) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return ""
	}
}

// Profile is what the transport observes about a user on each message
type Profile struct {
	UserID    int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
	IsPremium bool
}

// UserRepo defines the interface for user data operations
type UserRepo interface {
	// Upsert creates the user on first contact and refreshes profile
	// fields and last_interaction otherwise. Counters are untouched.
	Upsert(ctx context.Context, p *Profile, at time.Time) (*User, error)
	Get(ctx context.Context, userID int64) (*User, error)
	SetBanned(ctx context.Context, userID int64, banned bool, reason string) error
}

// UserUseCase contains business logic for user operations
type UserUseCase struct {
	repo UserRepo
	now  func() time.Time
}

func NewUserUseCase(repo UserRepo) *UserUseCase {
	return &UserUseCase{repo: repo, now: time.Now}
}

// Register records the user's latest profile and returns the stored user
func (uc *UserUseCase) Register(ctx context.Context, p *Profile) (*User, error) {
	return uc.repo.Upsert(ctx, p, uc.now().UTC())
}

func (uc *UserUseCase) Get(ctx context.Context, userID int64) (*User, error) {
	return uc.repo.Get(ctx, userID)
}

func (uc *UserUseCase) Ban(ctx context.Context, userID int64, reason string) error {
	return uc.repo.SetBanned(ctx, userID, true, reason)
}

func (uc *UserUseCase) Unban(ctx context.Context, userID int64) error {
	return uc.repo.SetBanned(ctx, userID, false, "")
}
