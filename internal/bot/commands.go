package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
	"go.uber.org/zap"
)

// IsCommand reports whether text should go to HandleCommand
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// parseCommand splits "/ban@somebot 42 spam" into "ban" and ["42", "spam"]
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}

// HandleCommand answers a slash command. Errors are logged and the user
// gets the generic error message.
func (o *Orchestrator) HandleCommand(ctx context.Context, msg Inbound, conv Conversation) {
	ctx = o.requestContext(ctx, msg)
	log := o.logger.WithContext(ctx)

	name, args := parseCommand(msg.Text)

	user, ok := o.admit(ctx, msg, conv)
	if !ok {
		return
	}

	var err error
	switch name {
	case "start", "help":
		_, err = conv.ReplyHTML(ctx, msgHelp)
	case "stats":
		err = o.handleStats(ctx, user, conv)
	case "cancel":
		err = o.handleCancel(ctx, user, conv)
	case "ban", "unban", "sweep":
		if !o.config.isAdmin(user.UserID) {
			log.Warn("admin command from non-admin", zap.String("command", name))
			return
		}
		err = o.handleAdmin(ctx, name, args, conv)
	default:
		log.Debug("ignoring unknown command", zap.String("command", name))
		return
	}

	if err != nil {
		log.Error("command failed", zap.String("command", name), zap.Error(err))
		o.reply(ctx, conv, msgError)
	}
}

func (o *Orchestrator) handleStats(ctx context.Context, user *userbiz.User, conv Conversation) error {
	summary, err := o.Stats.Summary(ctx, user.UserID)
	if err != nil {
		o.logger.WithContext(ctx).Error("failed to load statistics", zap.Error(err))
		o.reply(ctx, conv, msgStatsUnavailable)
		return nil
	}
	_, err = conv.ReplyHTML(ctx, statsText(summary, o.currentLoad(ctx, user.UserID)))
	return err
}

// currentLoad is nil when the request store cannot answer; /stats then
// omits the section.
func (o *Orchestrator) currentLoad(ctx context.Context, userID int64) *currentLoad {
	load, err := o.Requests.Load(ctx, userID)
	if err != nil {
		o.logger.WithContext(ctx).Warn("failed to load current downloads", zap.Error(err))
		return nil
	}
	return &currentLoad{
		Pending: load.PendingDownloads,
		Recent:  load.RecentRequests,
		Running: o.Gate.InFlight(userID),
		Slots:   o.Gate.Capacity(),
	}
}

// handleCancel cancels every in-flight download of the user. The download
// contexts are cancelled so yt-dlp is killed, and the flag makes the
// orchestrator record the attempt as cancelled.
func (o *Orchestrator) handleCancel(ctx context.Context, user *userbiz.User, conv Conversation) error {
	if n := o.Sessions.Cancel(user.UserID); n == 0 {
		_, err := conv.Reply(ctx, msgNoActiveDownload)
		return err
	}
	_, err := conv.Reply(ctx, msgCancelSuccess)
	return err
}

func (o *Orchestrator) handleAdmin(ctx context.Context, name string, args []string, conv Conversation) error {
	if name == "sweep" {
		if o.Sweeper == nil {
			return errors.New("retention sweeper not configured")
		}
		report, err := o.Sweeper.SweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		_, err = conv.Reply(ctx, sweepText(report))
		return err
	}

	if len(args) == 0 {
		o.reply(ctx, conv, msgAdminUsage)
		return nil
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		o.reply(ctx, conv, msgAdminUsage)
		return nil
	}

	format := msgAdminUnbanned
	if name == "ban" {
		format = msgAdminBanned
		err = o.Users.Ban(ctx, target, strings.Join(args[1:], " "))
	} else {
		err = o.Users.Unban(ctx, target)
	}
	if errors.Is(err, userbiz.ErrUserNotFound) {
		o.reply(ctx, conv, fmt.Sprintf(msgAdminNoUser, target))
		return nil
	}
	if err != nil {
		return err
	}
	text := fmt.Sprintf(format, o.userLabel(ctx, target))

	o.logger.WithContext(ctx).Info("admin command applied", zap.String("command", name), zap.Int64("target", target))
	_, err = conv.Reply(ctx, text)
	return err
}

// userLabel names the target of an admin command, falling back to the id
func (o *Orchestrator) userLabel(ctx context.Context, userID int64) string {
	u, err := o.Users.Get(ctx, userID)
	if err != nil {
		o.logger.WithContext(ctx).Debug("failed to look up user", zap.Int64("target", userID), zap.Error(err))
		return strconv.FormatInt(userID, 10)
	}
	if name := u.DisplayName(); name != "" {
		return fmt.Sprintf("%s (%d)", name, userID)
	}
	return strconv.FormatInt(userID, 10)
}
