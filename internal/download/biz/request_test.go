package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	reqs map[string]*Request
	sent map[string]time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{reqs: map[string]*Request{}, sent: map[string]time.Time{}}
}

func (m *memRepo) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reqs[r.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) Transition(_ context.Context, id string, from []Status, to Status, c Changes, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return ErrRequestNotFound
	}
	allowed := false
	for _, s := range from {
		if r.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}
	r.Status = to
	r.Attempts++
	r.LastAttempt = &at
	if c.CompletedAt != nil {
		r.CompletedAt = c.CompletedAt
	}
	if c.SentAt != nil {
		r.SentAt = c.SentAt
	}
	if c.ErrorMessage != nil {
		r.ErrorMessage = *c.ErrorMessage
	}
	if c.FileSize != nil {
		r.FileSize = *c.FileSize
	}
	if c.DownloadPath != nil {
		r.DownloadPath = *c.DownloadPath
	}
	return nil
}

func (m *memRepo) RecordSent(_ context.Context, userID int64, path string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sentKey(userID, path)
	if _, ok := m.sent[key]; ok {
		return false, nil
	}
	m.sent[key] = at
	return true, nil
}

func (m *memRepo) hasSent(userID int64, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sent[sentKey(userID, path)]
	return ok
}

func (m *memRepo) CountByStatus(_ context.Context, userID int64, status Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.reqs {
		if r.UserID == userID && r.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) CountSince(_ context.Context, userID int64, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.reqs {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) DeleteTerminalBefore(context.Context, time.Time) (int64, error) { return 2, nil }
func (m *memRepo) DeleteSentBefore(context.Context, time.Time) (int64, error)     { return 1, nil }

func sentKey(userID int64, path string) string {
	return fmt.Sprintf("%d|%s", userID, path)
}

type statsCall struct {
	kind     string
	userID   int64
	platform string
	size     int64
}

type recordingStats struct {
	calls []statsCall
	err   error
}

func (s *recordingStats) RecordRequest(_ context.Context, userID int64, _ time.Time) error {
	s.calls = append(s.calls, statsCall{kind: "request", userID: userID})
	return s.err
}

func (s *recordingStats) RecordSuccess(_ context.Context, userID int64, platform string, size int64, _ time.Time) error {
	s.calls = append(s.calls, statsCall{kind: "success", userID: userID, platform: platform, size: size})
	return s.err
}

func (s *recordingStats) RecordFailure(_ context.Context, userID int64, _ time.Time) error {
	s.calls = append(s.calls, statsCall{kind: "failure", userID: userID})
	return s.err
}

// passTx runs fn inline; rollback is covered by the sqlite tests in data
type passTx struct{ calls int }

func (p *passTx) InTx(ctx context.Context, fn database.TxFunc) error {
	p.calls++
	return fn(ctx)
}

func newTestStore() (*Store, *memRepo, *recordingStats, *passTx) {
	repo := newMemRepo()
	stats := &recordingStats{}
	tx := &passTx{}
	s := NewStore(repo, stats, tx)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s, repo, stats, tx
}

func TestStoreCreate(t *testing.T) {
	s, _, stats, tx := newTestStore()

	req, err := s.Create(context.Background(), 42, "https://youtube.com/watch?v=1", "youtube")
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, MediaTypeVideo, req.MediaType)
	assert.Equal(t, 0, req.Attempts)
	assert.Equal(t, time.UTC, req.CreatedAt.Location())
	assert.Equal(t, []statsCall{{kind: "request", userID: 42}}, stats.calls)
	assert.Equal(t, 1, tx.calls)
}

func TestStoreCreateStatsError(t *testing.T) {
	s, _, stats, _ := newTestStore()
	stats.err = errors.New("db down")

	_, err := s.Create(context.Background(), 42, "u", "youtube")
	assert.Error(t, err)
}

func TestStoreTransitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   func(s *Store, id string) error
		want    Status
		wantErr error
	}{
		{
			name: "complete then sent",
			steps: func(s *Store, id string) error {
				if err := s.Complete(context.Background(), id, 100, "/p"); err != nil {
					return err
				}
				return s.MarkSent(context.Background(), id)
			},
			want: StatusSent,
		},
		{
			name: "fail",
			steps: func(s *Store, id string) error {
				return s.Fail(context.Background(), id, "boom")
			},
			want: StatusFailed,
		},
		{
			name: "sent before complete",
			steps: func(s *Store, id string) error {
				return s.MarkSent(context.Background(), id)
			},
			want:    StatusPending,
			wantErr: ErrInvalidTransition,
		},
		{
			name: "fail after complete",
			steps: func(s *Store, id string) error {
				if err := s.Complete(context.Background(), id, 1, "/p"); err != nil {
					return err
				}
				return s.Fail(context.Background(), id, "late")
			},
			want:    StatusCompleted,
			wantErr: ErrInvalidTransition,
		},
		{
			name: "complete after fail",
			steps: func(s *Store, id string) error {
				if err := s.Fail(context.Background(), id, "x"); err != nil {
					return err
				}
				return s.Complete(context.Background(), id, 1, "/p")
			},
			want:    StatusFailed,
			wantErr: ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _, _ := newTestStore()
			req, err := s.Create(context.Background(), 1, "u", "tiktok")
			require.NoError(t, err)

			err = tt.steps(s, req.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			got, err := s.Get(context.Background(), req.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestStoreCompleteRecordsSuccess(t *testing.T) {
	s, repo, stats, _ := newTestStore()
	ctx := context.Background()

	req, err := s.Create(ctx, 7, "u", "instagram")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, req.ID, 2048, "/dl/7/video.mp4"))
	require.NoError(t, s.MarkSent(ctx, req.ID))

	assert.Equal(t, statsCall{kind: "success", userID: 7, platform: "instagram", size: 2048}, stats.calls[1])
	assert.Len(t, stats.calls, 2)

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.NotNil(t, got.SentAt)

	assert.True(t, repo.hasSent(7, "/dl/7/video.mp4"))
}

func TestStoreUnknownID(t *testing.T) {
	s, _, stats, _ := newTestStore()
	ctx := context.Background()

	assert.ErrorIs(t, s.Complete(ctx, "nope", 1, "/p"), ErrRequestNotFound)
	assert.ErrorIs(t, s.Fail(ctx, "nope", "x"), ErrRequestNotFound)
	assert.ErrorIs(t, s.MarkSent(ctx, "nope"), ErrRequestNotFound)
	assert.Empty(t, stats.calls)
}

func TestStoreCounts(t *testing.T) {
	s, _, _, _ := newTestStore()
	ctx := context.Background()

	a, err := s.Create(ctx, 9, "u", "youtube")
	require.NoError(t, err)
	_, err = s.Create(ctx, 9, "u", "youtube")
	require.NoError(t, err)
	_, err = s.Create(ctx, 10, "u", "youtube")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, a.ID, "x"))

	pending, err := s.CountPending(ctx, 9)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	recent, err := s.CountRecent(ctx, 9, s.now().Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, recent)
}

func TestStoreLoad(t *testing.T) {
	s, repo, _, _ := newTestStore()
	ctx := context.Background()

	done, err := s.Create(ctx, 11, "u", "tiktok")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, done.ID, 1, "/p"))
	_, err = s.Create(ctx, 11, "u", "tiktok")
	require.NoError(t, err)

	old, err := s.Create(ctx, 11, "u", "tiktok")
	require.NoError(t, err)
	repo.reqs[old.ID].CreatedAt = s.now().Add(-2 * LoadWindow)

	load, err := s.Load(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, &Load{PendingDownloads: 2, RecentRequests: 2}, load)

	empty, err := s.Load(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, &Load{}, empty)
}

func TestStorePurgeBefore(t *testing.T) {
	s, _, _, _ := newTestStore()

	requests, sent, err := s.PurgeBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, requests)
	assert.EqualValues(t, 1, sent)
}
