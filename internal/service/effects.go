package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Effects 在回复之外异步执行提交后的外部副作用（推送订阅、通知）。
// 每个副作用有独立的超时，失败只记录日志。
type Effects struct {
	wg      sync.WaitGroup
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewEffects(limit int, timeout time.Duration) *Effects {
	if limit <= 0 {
		limit = 32
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Effects{sem: semaphore.NewWeighted(int64(limit)), timeout: timeout}
}

// Go 调度 fn，立即返回。fn 的 context 与调用方的取消无关。
func (e *Effects) Go(name string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Str("effect", name).Msg("effect dropped")
			return
		}
		defer e.sem.Release(1)
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("effect", name).Msg("effect failed")
		}
	}()
}

// Wait 等待所有已调度的副作用结束，或 ctx 结束。
func (e *Effects) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
