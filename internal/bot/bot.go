// Package bot turns chat messages into downloads and command replies.
// It knows nothing about the chat transport beyond Conversation.
package bot

import (
	"context"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/download/biz"
	"github.com/lk2023060901/vidgrab-bot/internal/downloader"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/workerpool"
	"github.com/lk2023060901/vidgrab-bot/internal/retention"
	statsbiz "github.com/lk2023060901/vidgrab-bot/internal/stats/biz"
	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
)

// Sender is the user behind an inbound message
type Sender struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	IsPremium bool
}

// Inbound is one text message from a private chat
type Inbound struct {
	MessageID int
	ChatID    int64
	Text      string
	From      Sender
}

func (m Inbound) profile() *userbiz.Profile {
	return &userbiz.Profile{
		UserID:    m.From.UserID,
		ChatID:    m.ChatID,
		Username:  m.From.Username,
		FirstName: m.From.FirstName,
		LastName:  m.From.LastName,
		IsPremium: m.From.IsPremium,
	}
}

// Conversation replies into the chat an Inbound came from. Message ids
// returned by Reply can be passed to Edit.
type Conversation interface {
	Reply(ctx context.Context, text string) (int, error)
	ReplyHTML(ctx context.Context, html string) (int, error)
	Edit(ctx context.Context, messageID int, text string) error
	UploadAction(ctx context.Context) error
	SendVideo(ctx context.Context, path, caption string, meta downloader.Metadata) error
	SendDocument(ctx context.Context, path, caption string) error
}

type Detector interface {
	Detect(rawURL string) (string, error)
}

type Gate interface {
	Acquire(ctx context.Context, userID int64) (func(), error)
	InFlight(userID int64) int
	Capacity() int64
}

type Requests interface {
	Create(ctx context.Context, userID int64, url, platform string) (*biz.Request, error)
	Complete(ctx context.Context, id string, size int64, path string) error
	Fail(ctx context.Context, id string, message string) error
	MarkSent(ctx context.Context, id string) error
	Load(ctx context.Context, userID int64) (*biz.Load, error)
}

type Downloader interface {
	Download(ctx context.Context, rawURL, outputDir string) (*downloader.Result, error)
}

type Users interface {
	Register(ctx context.Context, p *userbiz.Profile) (*userbiz.User, error)
	Get(ctx context.Context, userID int64) (*userbiz.User, error)
	Ban(ctx context.Context, userID int64, reason string) error
	Unban(ctx context.Context, userID int64) error
}

type Stats interface {
	Summary(ctx context.Context, userID int64) (*statsbiz.Summary, error)
}

type Pool interface {
	SubmitWithResult(task func() (interface{}, error)) <-chan workerpool.TaskResult
}

type Sweeper interface {
	SweepOnce(ctx context.Context) (*retention.Report, error)
}

// Config holds the orchestrator's knobs
type Config struct {
	DownloadDir string
	MaxMB       int64
	PremiumMB   int64
	AdminIDs    []int64

	// FinalizeTimeout bounds the bookkeeping done after a download ends,
	// which runs even when the download context was cancelled.
	FinalizeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DownloadDir == "" {
		c.DownloadDir = "downloads"
	}
	if c.MaxMB <= 0 {
		c.MaxMB = 50
	}
	if c.PremiumMB <= 0 {
		c.PremiumMB = 4000
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 30 * time.Second
	}
	return c
}

func (c Config) ceilingMB(premium bool) int64 {
	if premium {
		return c.PremiumMB
	}
	return c.MaxMB
}

func (c Config) isAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
