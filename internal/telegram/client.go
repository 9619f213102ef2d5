// Package telegram connects the bot to Telegram over MTProto.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/lk2023060901/vidgrab-bot/internal/bot"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
	"go.uber.org/zap"
)

type Config struct {
	AppID       int
	AppHash     string
	Token       string
	SessionFile string
}

func (c Config) Validate() error {
	if c.AppID == 0 || c.AppHash == "" {
		return errors.New("telegram: app id and app hash are required")
	}
	if c.Token == "" {
		return errors.New("telegram: bot token is required")
	}
	if c.SessionFile == "" {
		return errors.New("telegram: session file is required")
	}
	return nil
}

// Handler receives every private text message
type Handler interface {
	HandleURL(ctx context.Context, msg bot.Inbound, conv bot.Conversation)
	HandleCommand(ctx context.Context, msg bot.Inbound, conv bot.Conversation)
}

// Client logs in as a bot and dispatches new private messages to the
// handler, each on its own goroutine.
type Client struct {
	config  Config
	handler Handler
	logger  *logger.Logger
	client  *telegram.Client

	mu       sync.RWMutex
	runCtx   context.Context
	sender   *message.Sender
	uploader *uploader.Uploader

	ready    atomic.Bool
	handlers sync.WaitGroup
}

func New(config Config, handler Handler, log *logger.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Client{
		config:  config,
		handler: handler,
		logger:  log.Named("telegram"),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(c.onNewMessage)

	c.client = telegram.NewClient(config.AppID, config.AppHash, telegram.Options{
		Logger:         log.Named("gotd").Logger,
		SessionStorage: &session.FileStorage{Path: config.SessionFile},
		UpdateHandler:  dispatcher,
	})
	return c, nil
}

// Run connects, logs in and serves updates until ctx is cancelled. It
// waits for in-flight handlers before returning.
func (c *Client) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.config.SessionFile), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			if _, err := c.client.Auth().Bot(ctx, c.config.Token); err != nil {
				return fmt.Errorf("bot login: %w", err)
			}
		}

		api := c.client.API()
		up := uploader.NewUploader(api)

		c.mu.Lock()
		c.runCtx = ctx
		c.uploader = up
		c.sender = message.NewSender(api).WithUploader(up)
		c.mu.Unlock()

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("get self: %w", err)
		}
		c.logger.Info("bot logged in", zap.String("username", self.Username), zap.Int64("id", self.ID))
		c.ready.Store(true)

		<-ctx.Done()
		c.ready.Store(false)
		c.handlers.Wait()
		c.logger.Info("telegram client stopped")
		return nil
	})
}

// Ready reports whether the client is logged in and serving updates
func (c *Client) Ready() bool {
	return c.ready.Load()
}

func (c *Client) onNewMessage(_ context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	in, peer, ok := toInbound(msg, e)
	if !ok {
		return nil
	}

	c.mu.RLock()
	ctx, sender, up := c.runCtx, c.sender, c.uploader
	c.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return nil
	}

	conv := newConversation(sender, up, peer, msg.ID)

	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("handler panic", zap.Any("panic", r), zap.Int64("user_id", in.From.UserID))
			}
		}()

		if bot.IsCommand(in.Text) {
			c.handler.HandleCommand(ctx, in, conv)
			return
		}
		c.handler.HandleURL(ctx, in, conv)
	}()
	return nil
}
