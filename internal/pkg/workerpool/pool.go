package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
)

// TaskResult 任务结果
type TaskResult struct {
	Data  interface{}
	Error error
}

// Config Worker Pool 配置
type Config struct {
	Workers         int           `mapstructure:"workers"`          // worker 数量
	NonBlocking     bool          `mapstructure:"non_blocking"`     // 池满时直接返回错误而不是等待
	ExpiryDuration  time.Duration `mapstructure:"expiry_duration"`  // 空闲 worker 回收间隔
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // 关闭时等待运行中任务的时间
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:         16,
		NonBlocking:     false,
		ExpiryDuration:  time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64
	Completed int64
	Failed    int64
	Panicked  int64
	Running   int64
}

type counters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	running   atomic.Int64
}

// Pool 基于 ants 的 worker pool，用于把阻塞任务（子进程下载等）移出消息分发路径
type Pool struct {
	pool   *ants.Pool
	config *Config
	stats  counters
	logger *zap.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0, got %d", config.Workers)
	}

	p := &Pool{
		config: config,
		logger: logger,
	}

	opts := []ants.Option{
		ants.WithNonblocking(config.NonBlocking),
		ants.WithPanicHandler(func(err interface{}) {
			p.stats.panicked.Add(1)
			logger.Error("worker panic", zap.Any("error", err))
		}),
	}
	if config.ExpiryDuration > 0 {
		opts = append(opts, ants.WithExpiryDuration(config.ExpiryDuration))
	}

	antsPool, err := ants.NewPool(config.Workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool

	return p, nil
}

// Submit 提交任务
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.stats.submitted.Add(1)
	err := p.pool.Submit(func() {
		p.stats.running.Add(1)
		defer func() {
			p.stats.running.Add(-1)
			p.stats.completed.Add(1)
		}()
		task()
	})
	if err != nil {
		p.stats.failed.Add(1)
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// SubmitWithResult 提交任务并获取结果。提交失败时 channel 立即返回该错误，
// 任务 panic 时返回 panic 信息，channel 总会收到恰好一个结果。
func (p *Pool) SubmitWithResult(task func() (interface{}, error)) <-chan TaskResult {
	resultCh := make(chan TaskResult, 1)

	err := p.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.stats.panicked.Add(1)
				p.logger.Error("task panic", zap.Any("error", r))
				resultCh <- TaskResult{Error: fmt.Errorf("task panic: %v", r)}
			}
			close(resultCh)
		}()
		result, err := task()
		resultCh <- TaskResult{Data: result, Error: err}
	})
	if err != nil {
		resultCh <- TaskResult{Error: err}
		close(resultCh)
	}

	return resultCh
}

// Running 获取运行中的 worker 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free 获取空闲 worker 数量
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Cap 获取容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Stats 获取统计信息
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
		Failed:    p.stats.failed.Load(),
		Panicked:  p.stats.panicked.Load(),
		Running:   p.stats.running.Load(),
	}
}

// Shutdown 关闭，等待运行中的任务结束（最多 ShutdownTimeout）
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if p.config.ShutdownTimeout > 0 {
			if err := p.pool.ReleaseTimeout(p.config.ShutdownTimeout); err != nil {
				p.logger.Warn("worker pool shutdown timed out", zap.Error(err))
			}
			return
		}
		p.pool.Release()
	})
}
