package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/download/biz"
	"github.com/lk2023060901/vidgrab-bot/internal/retention"
	statsbiz "github.com/lk2023060901/vidgrab-bot/internal/stats/biz"
	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs []string
	}{
		{text: "/start", wantName: "start", wantArgs: []string{}},
		{text: "/Stats@vidgrab_bot", wantName: "stats", wantArgs: []string{}},
		{text: " /ban 42 spamming links ", wantName: "ban", wantArgs: []string{"42", "spamming", "links"}},
		{text: "hello", wantName: ""},
		{text: "", wantName: ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args := parseCommand(tt.text)
			assert.Equal(t, tt.wantName, name)
			if tt.wantArgs != nil {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}

	assert.True(t, IsCommand(" /help"))
	assert.False(t, IsCommand("https://youtu.be/x"))
}

func TestHelpCommands(t *testing.T) {
	for _, cmd := range []string{"/start", "/help"} {
		t.Run(cmd, func(t *testing.T) {
			h := newHarness(t)
			h.orch.HandleCommand(context.Background(), message(42, cmd), h.conv)

			assert.Equal(t, event{kind: "html", text: msgHelp}, h.conv.last())
			assert.Contains(t, h.users.users, int64(42), "commands register the user")
		})
	}
}

func TestStatsCommand(t *testing.T) {
	h := newHarness(t)
	h.stats.summary = &statsbiz.Summary{
		UserID: 42,
		Lifetime: statsbiz.Lifetime{
			FirstSeen:           time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC),
			SuccessfulDownloads: 12,
			FailedDownloads:     3,
			Platforms:           map[string]int64{"youtube": 9, "tiktok": 3},
		},
		TotalBytes: 300 << 20,
		Today:      statsbiz.DailyStat{Requests: 4, Successes: 2, Failures: 1},
	}
	h.requests.load = biz.Load{PendingDownloads: 2, RecentRequests: 4}

	h.orch.HandleCommand(context.Background(), message(42, "/stats"), h.conv)

	last := h.conv.last()
	assert.Equal(t, "html", last.kind)
	for _, want := range []string{
		"📥 Total Downloads: 12",
		"❌ Failed Downloads: 3",
		"💾 Total Data: 300.0 MB",
		"🕐 Member Since: 2025-01-02",
		"📊 Requests: 4",
		"✅ Successful: 2",
		"❌ Failed: 1",
		"• tiktok: 3\n• youtube: 9",
		"⏳ Downloading: 0/3",
		"🕒 Pending: 2",
		"🚦 Last minute: 4",
	} {
		assert.Contains(t, last.text, want)
	}
}

func TestStatsCommandShowsRunningDownloads(t *testing.T) {
	h := newHarness(t)
	h.stats.summary = &statsbiz.Summary{UserID: 42}
	release, err := h.orch.Gate.Acquire(context.Background(), 42)
	require.NoError(t, err)
	defer release()

	h.orch.HandleCommand(context.Background(), message(42, "/stats"), h.conv)

	assert.Contains(t, h.conv.last().text, "⏳ Downloading: 1/3")
}

func TestStatsCommandWithoutLoad(t *testing.T) {
	h := newHarness(t)
	h.stats.summary = &statsbiz.Summary{UserID: 42}
	h.requests.loadErr = errors.New("db down")

	h.orch.HandleCommand(context.Background(), message(42, "/stats"), h.conv)

	last := h.conv.last()
	assert.Equal(t, "html", last.kind)
	assert.Contains(t, last.text, "Your Statistics")
	assert.NotContains(t, last.text, "Current Load")
}

func TestStatsCommandError(t *testing.T) {
	h := newHarness(t)
	h.stats.err = errors.New("db down")

	h.orch.HandleCommand(context.Background(), message(42, "/stats"), h.conv)

	assert.Equal(t, msgStatsUnavailable, h.conv.last().text)
}

func TestCancelWithoutDownload(t *testing.T) {
	h := newHarness(t)

	h.orch.HandleCommand(context.Background(), message(42, "/cancel"), h.conv)

	assert.Equal(t, msgNoActiveDownload, h.conv.last().text)
}

func TestAdminCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.users.users[42] = &userbiz.User{UserID: 42, Username: "user"}
	h.users.users[43] = &userbiz.User{UserID: 43}

	h.orch.HandleCommand(ctx, message(1, "/ban 42 spam links"), h.conv)
	assert.Equal(t, "✅ User @user (42) banned.", h.conv.last().text)
	assert.True(t, h.users.users[42].IsBanned)
	assert.Equal(t, "spam links", h.users.users[42].BanReason)

	userConv := &fakeConv{}
	h.orch.HandleURL(ctx, message(42, ytURL), userConv)
	assert.Equal(t, msgBanned, userConv.last().text)

	h.orch.HandleCommand(ctx, message(1, "/unban 42"), h.conv)
	assert.Equal(t, "✅ User @user (42) unbanned.", h.conv.last().text)
	assert.False(t, h.users.users[42].IsBanned)

	h.orch.HandleCommand(ctx, message(1, "/ban 43"), h.conv)
	assert.Equal(t, "✅ User 43 banned.", h.conv.last().text)

	h.orch.HandleCommand(ctx, message(1, "/unban 777"), h.conv)
	assert.Equal(t, "❌ User 777 not found.", h.conv.last().text)

	h.orch.HandleCommand(ctx, message(1, "/ban nope"), h.conv)
	assert.Equal(t, msgAdminUsage, h.conv.last().text)
}

func TestAdminCommandsIgnoredForOthers(t *testing.T) {
	h := newHarness(t)
	h.users.users[7] = &userbiz.User{UserID: 7}

	h.orch.HandleCommand(context.Background(), message(42, "/ban 7"), h.conv)

	assert.Empty(t, h.conv.Events())
	assert.False(t, h.users.users[7].IsBanned)
}

func TestSweepCommand(t *testing.T) {
	h := newHarness(t)
	h.sweeper.report = &retention.Report{
		Cutoff:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Requests:     10,
		SentVideos:   4,
		DailyStats:   6,
		PrunedLimits: 2,
	}

	h.orch.HandleCommand(context.Background(), message(1, "/sweep"), h.conv)

	text := h.conv.last().text
	assert.Contains(t, text, "older than 2026-01-01")
	assert.Contains(t, text, "Requests: 10")
	assert.Contains(t, text, "Rate-limit entries: 2")
}

func TestSweepCommandError(t *testing.T) {
	h := newHarness(t)
	h.sweeper.err = errors.New("db down")

	h.orch.HandleCommand(context.Background(), message(1, "/sweep"), h.conv)

	assert.Equal(t, msgError, h.conv.last().text)
}

func TestUnknownCommandIgnored(t *testing.T) {
	h := newHarness(t)

	h.orch.HandleCommand(context.Background(), message(42, "/frobnicate"), h.conv)

	require.Empty(t, h.conv.Events())
}
