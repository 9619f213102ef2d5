package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	downloadbiz "github.com/lk2023060901/vidgrab-bot/internal/download/biz"
	apperrors "github.com/lk2023060901/vidgrab-bot/internal/pkg/errors"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/response"
	"github.com/lk2023060901/vidgrab-bot/internal/stats/biz"
	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
	"go.uber.org/zap"
)

// Summarizer is satisfied by biz.Aggregator
type Summarizer interface {
	Summary(ctx context.Context, userID int64) (*biz.Summary, error)
}

// LoadReporter is satisfied by the download request store
type LoadReporter interface {
	Load(ctx context.Context, userID int64) (*downloadbiz.Load, error)
}

type StatsService struct {
	stats  Summarizer
	loads  LoadReporter
	logger *zap.Logger
}

func NewStatsService(stats Summarizer, loads LoadReporter, logger *zap.Logger) *StatsService {
	return &StatsService{
		stats:  stats,
		loads:  loads,
		logger: logger,
	}
}

type DailyResponse struct {
	Day       string `json:"day"`
	Requests  int64  `json:"requests"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
	Bytes     int64  `json:"bytes"`
}

type SummaryResponse struct {
	UserID              int64            `json:"user_id"`
	FirstSeen           string           `json:"first_seen"`
	TotalRequests       int64            `json:"total_requests"`
	SuccessfulDownloads int64            `json:"successful_downloads"`
	FailedDownloads     int64            `json:"failed_downloads"`
	TotalBytes          int64            `json:"total_bytes"`
	Platforms           map[string]int64 `json:"platforms"`
	Today               DailyResponse    `json:"today"`
	Load                *LoadResponse    `json:"load,omitempty"`
}

type LoadResponse struct {
	PendingDownloads int64 `json:"pending_downloads"`
	RecentRequests   int64 `json:"recent_requests"`
}

func (s *StatsService) RegisterRoutes(r gin.IRoutes) {
	r.GET("/users/:id/stats", s.GetUserStats)
}

func (s *StatsService) GetUserStats(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.HandleError(c, apperrors.New(apperrors.ErrInvalidParams, "invalid user id"))
		return
	}

	summary, err := s.stats.Summary(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, userbiz.ErrUserNotFound) {
			response.HandleError(c, apperrors.New(apperrors.ErrNotFound, "user"))
			return
		}
		s.logger.Error("failed to load stats", zap.Int64("user_id", userID), zap.Error(err))
		response.HandleError(c, apperrors.Wrap(err, apperrors.ErrPersistence))
		return
	}

	resp := toResponse(summary)
	if s.loads != nil {
		// load is best effort; the summary is still served without it
		load, err := s.loads.Load(c.Request.Context(), userID)
		if err != nil {
			s.logger.Warn("failed to load current downloads", zap.Int64("user_id", userID), zap.Error(err))
		} else {
			resp.Load = &LoadResponse{PendingDownloads: load.PendingDownloads, RecentRequests: load.RecentRequests}
		}
	}
	response.Success(c, resp)
}

func toResponse(s *biz.Summary) *SummaryResponse {
	platforms := s.Lifetime.Platforms
	if platforms == nil {
		platforms = map[string]int64{}
	}
	return &SummaryResponse{
		UserID:              s.UserID,
		FirstSeen:           s.Lifetime.FirstSeen.UTC().Format(time.RFC3339),
		TotalRequests:       s.Lifetime.TotalRequests,
		SuccessfulDownloads: s.Lifetime.SuccessfulDownloads,
		FailedDownloads:     s.Lifetime.FailedDownloads,
		TotalBytes:          s.TotalBytes,
		Platforms:           platforms,
		Today: DailyResponse{
			Day:       s.Today.Day.UTC().Format(time.DateOnly),
			Requests:  s.Today.Requests,
			Successes: s.Today.Successes,
			Failures:  s.Today.Failures,
			Bytes:     s.Today.Bytes,
		},
	}
}
