package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/download/biz"
	"github.com/lk2023060901/vidgrab-bot/internal/downloader"
	"github.com/lk2023060901/vidgrab-bot/internal/gate"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/workerpool"
	"github.com/lk2023060901/vidgrab-bot/internal/platform"
	"github.com/lk2023060901/vidgrab-bot/internal/ratelimit"
	"github.com/lk2023060901/vidgrab-bot/internal/retention"
	"github.com/lk2023060901/vidgrab-bot/internal/session"
	statsbiz "github.com/lk2023060901/vidgrab-bot/internal/stats/biz"
	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
)

// event is one thing the bot did to the chat
type event struct {
	kind string // reply, html, edit, action, video, document
	id   int
	text string
}

type fakeConv struct {
	mu     sync.Mutex
	nextID int
	events []event

	replyErr    func(text string) error
	videoErr    error
	documentErr error
}

func (c *fakeConv) record(e event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *fakeConv) Reply(_ context.Context, text string) (int, error) {
	if c.replyErr != nil {
		if err := c.replyErr(text); err != nil {
			return 0, err
		}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	c.record(event{kind: "reply", id: id, text: text})
	return id, nil
}

func (c *fakeConv) ReplyHTML(_ context.Context, html string) (int, error) {
	c.record(event{kind: "html", text: html})
	return 0, nil
}

func (c *fakeConv) Edit(_ context.Context, id int, text string) error {
	c.record(event{kind: "edit", id: id, text: text})
	return nil
}

func (c *fakeConv) UploadAction(context.Context) error {
	c.record(event{kind: "action"})
	return nil
}

func (c *fakeConv) SendVideo(_ context.Context, path, caption string, _ downloader.Metadata) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if c.videoErr != nil {
		return c.videoErr
	}
	c.record(event{kind: "video", text: caption})
	return nil
}

func (c *fakeConv) SendDocument(_ context.Context, path, caption string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if c.documentErr != nil {
		return c.documentErr
	}
	c.record(event{kind: "document", text: caption})
	return nil
}

func (c *fakeConv) Events() []event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event(nil), c.events...)
}

func (c *fakeConv) kinds() []string {
	var out []string
	for _, e := range c.Events() {
		out = append(out, e.kind)
	}
	return out
}

func (c *fakeConv) last() event {
	ev := c.Events()
	if len(ev) == 0 {
		return event{}
	}
	return ev[len(ev)-1]
}

type fakeRequests struct {
	mu        sync.Mutex
	seq       int
	created   []*biz.Request
	completed map[string]int64
	sent      []string
	failed    map[string]string
	createErr error
	load      biz.Load
	loadErr   error
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{completed: map[string]int64{}, failed: map[string]string{}}
}

func (r *fakeRequests) Create(_ context.Context, userID int64, url, platform string) (*biz.Request, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	req := &biz.Request{
		ID: fmt.Sprintf("req-%d", r.seq), UserID: userID, URL: url,
		Platform: platform, Status: biz.StatusPending,
	}
	r.created = append(r.created, req)
	return req, nil
}

func (r *fakeRequests) Complete(_ context.Context, id string, size int64, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[id] = size
	return nil
}

func (r *fakeRequests) Fail(_ context.Context, id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = message
	return nil
}

func (r *fakeRequests) MarkSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, id)
	return nil
}

func (r *fakeRequests) Load(context.Context, int64) (*biz.Load, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	load := r.load
	return &load, nil
}

func (r *fakeRequests) failures() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]string{}
	for k, v := range r.failed {
		out[k] = v
	}
	return out
}

type fakeDownloader struct {
	fn func(ctx context.Context, url, dir string) (*downloader.Result, error)
}

func (d *fakeDownloader) Download(ctx context.Context, url, dir string) (*downloader.Result, error) {
	return d.fn(ctx, url, dir)
}

var videoSeq atomic.Int64

// writeVideo creates a small file but reports size bytes
func writeVideo(size int64) func(context.Context, string, string) (*downloader.Result, error) {
	return func(_ context.Context, _ string, dir string) (*downloader.Result, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, fmt.Sprintf("video_%d.mp4", videoSeq.Add(1)))
		if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
			return nil, err
		}
		return &downloader.Result{Path: path, Size: size, Metadata: downloader.Metadata{Ext: "mp4"}}, nil
	}
}

type fakeUsers struct {
	mu     sync.Mutex
	users  map[int64]*userbiz.User
	regErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[int64]*userbiz.User{}}
}

func (u *fakeUsers) Register(_ context.Context, p *userbiz.Profile) (*userbiz.User, error) {
	if u.regErr != nil {
		return nil, u.regErr
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[p.UserID]
	if !ok {
		user = &userbiz.User{UserID: p.UserID, FirstSeen: time.Now().UTC()}
		u.users[p.UserID] = user
	}
	user.ChatID = p.ChatID
	user.Username = p.Username
	user.IsPremium = p.IsPremium
	cp := *user
	return &cp, nil
}

func (u *fakeUsers) Get(_ context.Context, id int64) (*userbiz.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return nil, userbiz.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (u *fakeUsers) setBanned(id int64, banned bool, reason string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return userbiz.ErrUserNotFound
	}
	user.IsBanned, user.BanReason = banned, reason
	return nil
}

func (u *fakeUsers) Ban(_ context.Context, id int64, reason string) error {
	return u.setBanned(id, true, reason)
}

func (u *fakeUsers) Unban(_ context.Context, id int64) error {
	return u.setBanned(id, false, "")
}

type fakeStats struct {
	summary *statsbiz.Summary
	err     error
}

func (s *fakeStats) Summary(context.Context, int64) (*statsbiz.Summary, error) {
	return s.summary, s.err
}

type fakeLimiter struct {
	decision ratelimit.Decision
	err      error
}

func (l *fakeLimiter) Allow(context.Context, int64) (ratelimit.Decision, error) {
	return l.decision, l.err
}

type fakeSweeper struct {
	report *retention.Report
	err    error
}

func (s *fakeSweeper) SweepOnce(context.Context) (*retention.Report, error) {
	return s.report, s.err
}

// goPool runs each task on its own goroutine
type goPool struct{}

func (goPool) SubmitWithResult(task func() (interface{}, error)) <-chan workerpool.TaskResult {
	ch := make(chan workerpool.TaskResult, 1)
	go func() {
		data, err := task()
		ch <- workerpool.TaskResult{Data: data, Error: err}
	}()
	return ch
}

type harness struct {
	orch     *Orchestrator
	conv     *fakeConv
	requests *fakeRequests
	dl       *fakeDownloader
	users    *fakeUsers
	stats    *fakeStats
	limiter  *fakeLimiter
	sweeper  *fakeSweeper
	sessions *session.Registry
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conv:     &fakeConv{},
		requests: newFakeRequests(),
		dl:       &fakeDownloader{fn: writeVideo(1 << 20)},
		users:    newFakeUsers(),
		stats:    &fakeStats{},
		limiter:  &fakeLimiter{decision: ratelimit.Decision{Allowed: true, Count: 1}},
		sweeper:  &fakeSweeper{},
		sessions: session.NewRegistry(),
		dir:      filepath.Join(t.TempDir(), "downloads"),
	}
	h.orch = New(Config{DownloadDir: h.dir, AdminIDs: []int64{1}}, Deps{
		Detector:   platform.NewDetector(nil),
		Limiter:    h.limiter,
		Gate:       gate.New(3),
		Sessions:   h.sessions,
		Requests:   h.requests,
		Downloader: h.dl,
		Users:      h.users,
		Stats:      h.stats,
		Pool:       goPool{},
		Sweeper:    h.sweeper,
	})
	return h
}

func message(userID int64, text string) Inbound {
	return Inbound{MessageID: 10, ChatID: userID, Text: text, From: Sender{UserID: userID, Username: "user"}}
}

func premium(m Inbound) Inbound {
	m.From.IsPremium = true
	return m
}

func errorContaining(s string) func(string) error {
	return func(text string) error {
		if strings.Contains(text, s) {
			return errors.New("telegram unavailable")
		}
		return nil
	}
}
