package bot

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lk2023060901/vidgrab-bot/internal/download/biz"
	"github.com/lk2023060901/vidgrab-bot/internal/downloader"
	apperrors "github.com/lk2023060901/vidgrab-bot/internal/pkg/errors"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
	"github.com/lk2023060901/vidgrab-bot/internal/ratelimit"
	"github.com/lk2023060901/vidgrab-bot/internal/session"
	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
	"go.uber.org/zap"
)

// Deps are the collaborators the orchestrator drives. Sweeper is optional.
type Deps struct {
	Detector   Detector
	Limiter    ratelimit.Limiter
	Gate       Gate
	Sessions   *session.Registry
	Requests   Requests
	Downloader Downloader
	Users      Users
	Stats      Stats
	Pool       Pool
	Sweeper    Sweeper
	Logger     *logger.Logger
}

// Orchestrator runs one URL message through validation, rate limiting,
// the per-user gate, the download, delivery and bookkeeping.
type Orchestrator struct {
	config Config
	Deps
	logger *logger.Logger
}

func New(config Config, deps Deps) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewRegistry()
	}
	return &Orchestrator{
		config: config.withDefaults(),
		Deps:   deps,
		logger: log.Named("bot"),
	}
}

// attempt is the state one download accumulates for its cleanup
type attempt struct {
	request  *biz.Request
	statusID int
	result   *downloader.Result
}

// HandleURL processes a non-command text message. It always answers the
// user and never returns an error; failures are logged and recorded.
func (o *Orchestrator) HandleURL(ctx context.Context, msg Inbound, conv Conversation) {
	ctx = o.requestContext(ctx, msg)
	log := o.logger.WithContext(ctx)

	user, ok := o.admit(ctx, msg, conv)
	if !ok {
		return
	}

	rawURL := strings.TrimSpace(msg.Text)
	platform, err := o.Detector.Detect(rawURL)
	if err != nil {
		log.Info("rejected url", zap.String("url", rawURL), zap.Error(err))
		o.reply(ctx, conv, msgInvalidURL)
		return
	}

	if !o.allow(ctx, user.UserID, conv) {
		return
	}

	dctx, dl := o.Sessions.Begin(ctx, user.UserID)
	userDir := o.userDir(user.UserID)
	var a attempt
	release := func() {}
	// the gate slot is held until the local files are gone
	defer func() {
		o.Sessions.End(dl)
		o.cleanup(log, user.UserID, a.result, userDir)
		release()
	}()

	release, err = o.Gate.Acquire(dctx, user.UserID)
	if err != nil {
		release = func() {}
		log.Info("stopped waiting for a download slot", zap.Error(err))
		return
	}

	a.request, err = o.Requests.Create(ctx, user.UserID, rawURL, platform)
	if err != nil {
		log.Error("failed to create download request", zap.Error(err))
		o.reply(ctx, conv, msgError)
		return
	}
	log = log.With(zap.String("download_id", a.request.ID), zap.String("platform", platform))

	if err := o.run(ctx, dctx, dl, user, conv, &a, log); err != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.FinalizeTimeout)
		defer cancel()
		o.fail(fctx, log, conv, &a, err)
		return
	}
	log.Info("download delivered", zap.Int64("size", a.result.Size))
}

func (o *Orchestrator) run(ctx, dctx context.Context, dl *session.Download, user *userbiz.User, conv Conversation, a *attempt, log *logger.Logger) error {
	req := a.request

	id, err := conv.Reply(ctx, downloadStartText(req.URL, req.Platform))
	if err != nil {
		log.Warn("failed to send status message", zap.Error(err))
	} else {
		a.statusID = id
	}
	if err := conv.UploadAction(ctx); err != nil {
		log.Debug("failed to send upload action", zap.Error(err))
	}

	res, err := o.download(dctx, req.URL, o.userDir(user.UserID), log)
	a.result = res
	if dl.Cancelled() {
		return apperrors.New(apperrors.ErrCancelled, "download cancelled by user")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDownloadFailed)
	}

	ceiling := o.config.ceilingMB(user.IsPremium)
	if float64(res.Size)/bytesPerMB > float64(ceiling) {
		return apperrors.New(apperrors.ErrSizeExceeded, tooLargeText(ceiling, user.IsPremium))
	}

	if a.statusID != 0 {
		if err := conv.Edit(ctx, a.statusID, msgUploadProgress); err != nil {
			log.Warn("failed to edit status message", zap.Error(err))
		}
	}

	if err := o.deliver(ctx, conv, res, req.Platform, log); err != nil {
		return err
	}

	if err := o.Requests.Complete(ctx, req.ID, res.Size, res.Path); err != nil {
		return apperrors.Wrap(err, apperrors.ErrPersistence, "complete")
	}
	if err := o.Requests.MarkSent(ctx, req.ID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrPersistence, "mark sent")
	}
	return nil
}

// download runs the downloader on the worker pool. If ctx ends first the
// task keeps running until the subprocess exits; its file is discarded.
func (o *Orchestrator) download(ctx context.Context, rawURL, dir string, log *logger.Logger) (*downloader.Result, error) {
	ch := o.Pool.SubmitWithResult(func() (interface{}, error) {
		return o.Downloader.Download(ctx, rawURL, dir)
	})

	select {
	case r := <-ch:
		res, _ := r.Data.(*downloader.Result)
		if r.Error != nil {
			return res, r.Error
		}
		if res == nil {
			return nil, errors.New("downloader returned no result")
		}
		return res, nil
	case <-ctx.Done():
		go func() {
			r := <-ch
			if res, ok := r.Data.(*downloader.Result); ok && res != nil {
				removeResult(log, res)
			}
		}()
		return nil, ctx.Err()
	}
}

// deliver sends res as a streaming video, falling back once to a document
func (o *Orchestrator) deliver(ctx context.Context, conv Conversation, res *downloader.Result, platform string, log *logger.Logger) error {
	caption := successCaption(res.Size, platform)

	err := conv.SendVideo(ctx, res.Path, caption, res.Metadata)
	if err == nil {
		return nil
	}
	log.Warn("failed to send as video, retrying as document", zap.Error(err))

	if err := conv.SendDocument(ctx, res.Path, caption); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDeliveryFailed)
	}
	return nil
}

// fail records the failure and tells the user. The status message is
// edited when there is one; otherwise a fresh reply is sent.
func (o *Orchestrator) fail(ctx context.Context, log *logger.Logger, conv Conversation, a *attempt, cause error) {
	switch apperrors.ExtractCode(cause) {
	case apperrors.ErrCancelled, apperrors.ErrSizeExceeded:
		log.Info("download stopped", zap.Error(cause))
	default:
		log.Error("download failed", zap.Error(cause))
	}

	if err := o.Requests.Fail(ctx, a.request.ID, cause.Error()); err != nil {
		log.Error("failed to record download failure", zap.Error(err))
	}

	text := failureText(cause)
	if a.statusID != 0 {
		err := conv.Edit(ctx, a.statusID, text)
		if err == nil {
			return
		}
		log.Warn("failed to edit status message", zap.Error(err))
	}
	o.reply(ctx, conv, text)
}

// admit upserts the sender and refuses banned users
func (o *Orchestrator) admit(ctx context.Context, msg Inbound, conv Conversation) (*userbiz.User, bool) {
	user, err := o.Users.Register(ctx, msg.profile())
	if err != nil {
		o.logger.WithContext(ctx).Error("failed to register user", zap.Error(err))
		o.reply(ctx, conv, msgError)
		return nil, false
	}
	if user.IsBanned {
		o.logger.WithContext(ctx).Info("refused banned user", zap.String("reason", user.BanReason))
		o.reply(ctx, conv, msgBanned)
		return nil, false
	}
	return user, true
}

// allow applies the rate limit. A limiter error lets the request through.
func (o *Orchestrator) allow(ctx context.Context, userID int64, conv Conversation) bool {
	d, err := o.Limiter.Allow(ctx, userID)
	if err != nil {
		o.logger.WithContext(ctx).Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return true
	}
	if !d.Allowed {
		o.reply(ctx, conv, rateLimitText(d.RetryAfter))
		return false
	}
	return true
}

func (o *Orchestrator) reply(ctx context.Context, conv Conversation, text string) {
	if _, err := conv.Reply(ctx, text); err != nil {
		o.logger.WithContext(ctx).Warn("failed to send reply", zap.Error(err))
	}
}

func (o *Orchestrator) requestContext(ctx context.Context, msg Inbound) context.Context {
	ctx = logger.WithRequestID(ctx, uuid.NewString())
	ctx = logger.WithUserID(ctx, msg.From.UserID)
	return logger.WithChatID(ctx, msg.ChatID)
}

func (o *Orchestrator) userDir(userID int64) string {
	return filepath.Join(o.config.DownloadDir, strconv.FormatInt(userID, 10))
}

// cleanup deletes the local file and, once the user has nothing else in
// flight, their empty download directory.
func (o *Orchestrator) cleanup(log *logger.Logger, userID int64, res *downloader.Result, dir string) {
	if res != nil {
		removeResult(log, res)
	}
	if o.Sessions.Downloading(userID) {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("failed to read download dir", zap.String("dir", dir), zap.Error(err))
		}
		return
	}
	if len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("failed to remove download dir", zap.String("dir", dir), zap.Error(err))
	}
}

func removeResult(log *logger.Logger, res *downloader.Result) {
	if err := res.Remove(); err != nil {
		log.Warn("failed to remove downloaded files", zap.String("path", res.Path), zap.Error(err))
	}
}
