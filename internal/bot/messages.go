package bot

import (
	"fmt"
	"html"
	"maps"
	"slices"
	"strings"
	"time"

	apperrors "github.com/lk2023060901/vidgrab-bot/internal/pkg/errors"
	"github.com/lk2023060901/vidgrab-bot/internal/retention"
	statsbiz "github.com/lk2023060901/vidgrab-bot/internal/stats/biz"
)

const (
	msgHelp = `<b>🤖 Bot Commands</b>

📍 <b>Available Commands:</b>
• /start – Start the bot 🚀
• /help – Show this help message ℹ️
• /cancel - Cancel current download ⚠️
• /stats - View your download statistics 📊

📥 <b>How to use:</b>
Simply send a video URL from YouTube, TikTok, or Instagram!

⚡ <b>Features:</b>
• Fast downloads
• High quality videos
• Multiple platform support
• Progress tracking

⚠️ Note: Please be patient while downloading large videos.`

	msgError            = "🤖 Oops! Something went wrong! Let me fix that for you 🔧\nPlease try again in a few moments 🙏"
	msgRateLimit        = "⏳ Whoa there! You're moving too fast!\nPlease wait %d seconds before your next request 🚦"
	msgInvalidURL       = "🔍 Hmm... That doesn't look like a valid URL.\nPlease send a valid YouTube, TikTok, or Instagram link! 🎥"
	msgDownloadStart    = "⚡ Starting your download...\n\n📥 URL: %s\n🎯 Platform: %s\n⚙️ Quality: Best available"
	msgUploadProgress   = "📤 Almost there! Uploading your video..."
	msgSuccess          = "✨ Download successful!\n\n📊 Stats:\n🎥 Size: %.1f MB\n⚡ Platform: %s\n🎯 Quality: Best available\n\nEnjoy your video! 🎉"
	msgCancelSuccess    = "🛑 Download cancelled successfully!"
	msgNoActiveDownload = "🤔 No active download to cancel."
	msgTooLarge         = "⚠️ Video is too large! Maximum size is %dMB 📦"
	msgPremiumHint      = "Consider getting Telegram Premium to download larger files!"
	msgBanned           = "🚫 You are not allowed to use this bot."
	msgStatsUnavailable = "❌ Could not fetch statistics"

	msgAdminUsage    = "Usage: /ban <user_id> [reason] | /unban <user_id>"
	msgAdminBanned   = "✅ User %s banned."
	msgAdminUnbanned = "✅ User %s unbanned."
	msgAdminNoUser   = "❌ User %d not found."
	msgSweepReport   = "🧹 Cleanup finished (older than %s)\nRequests: %d\nSent records: %d\nDaily stats: %d\nRate-limit entries: %d"
)

const bytesPerMB = 1024 * 1024

func rateLimitText(wait time.Duration) string {
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf(msgRateLimit, secs)
}

func downloadStartText(url, platform string) string {
	return fmt.Sprintf(msgDownloadStart, url, platform)
}

func successCaption(size int64, platform string) string {
	return fmt.Sprintf(msgSuccess, float64(size)/bytesPerMB, platform)
}

func tooLargeText(ceilingMB int64, premium bool) string {
	text := fmt.Sprintf(msgTooLarge, ceilingMB)
	if !premium {
		text += "\n" + msgPremiumHint
	}
	return text
}

// failureText picks the status text for a failed download. Only size
// violations get a specific message.
func failureText(err error) string {
	if apperrors.Is(err, apperrors.ErrSizeExceeded) {
		if d := apperrors.GetDetails(err); d != "" {
			return d
		}
	}
	return msgError
}

// currentLoad is what /stats shows about downloads still in progress
type currentLoad struct {
	Pending int64
	Recent  int64
	Running int
	Slots   int64
}

func statsText(s *statsbiz.Summary, load *currentLoad) string {
	var b strings.Builder
	b.WriteString("📊 <b>Your Statistics</b>\n\n")
	fmt.Fprintf(&b, "📥 Total Downloads: %d\n", s.Lifetime.SuccessfulDownloads)
	fmt.Fprintf(&b, "❌ Failed Downloads: %d\n", s.Lifetime.FailedDownloads)
	fmt.Fprintf(&b, "💾 Total Data: %.1f MB\n", float64(s.TotalBytes)/bytesPerMB)
	fmt.Fprintf(&b, "🕐 Member Since: %s\n", s.Lifetime.FirstSeen.UTC().Format("2006-01-02"))
	b.WriteString("\nToday's Activity:\n")
	fmt.Fprintf(&b, "📊 Requests: %d\n", s.Today.Requests)
	fmt.Fprintf(&b, "✅ Successful: %d\n", s.Today.Successes)
	fmt.Fprintf(&b, "❌ Failed: %d", s.Today.Failures)

	if len(s.Lifetime.Platforms) > 0 {
		b.WriteString("\n\nBy platform:")
		for _, p := range slices.Sorted(maps.Keys(s.Lifetime.Platforms)) {
			fmt.Fprintf(&b, "\n• %s: %d", html.EscapeString(p), s.Lifetime.Platforms[p])
		}
	}

	if load != nil {
		b.WriteString("\n\nCurrent Load:\n")
		fmt.Fprintf(&b, "⏳ Downloading: %d/%d\n", load.Running, load.Slots)
		fmt.Fprintf(&b, "🕒 Pending: %d\n", load.Pending)
		fmt.Fprintf(&b, "🚦 Last minute: %d", load.Recent)
	}
	return b.String()
}

func sweepText(r *retention.Report) string {
	return fmt.Sprintf(msgSweepReport, r.Cutoff.Format("2006-01-02"),
		r.Requests, r.SentVideos, r.DailyStats, r.PrunedLimits)
}
