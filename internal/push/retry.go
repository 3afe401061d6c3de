package push

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maguro923/chat-and-schedule-backend/internal/metrics"
)

type retrying struct {
	next    Gateway
	retries uint64
	initial time.Duration
}

// WithRetry 对失败的调用按指数退避重试最多 retries 次，起始间隔为 initial。
// 仍然失败的调用计入 metrics。
func WithRetry(g Gateway, retries int, initial time.Duration) Gateway {
	if retries < 0 {
		retries = 0
	}
	return &retrying{next: g, retries: uint64(retries), initial: initial}
}

func (r *retrying) do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	err := backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(b, r.retries), ctx))
	if err != nil {
		metrics.PushFailuresTotal.WithLabelValues(op).Inc()
	}
	return err
}

func (r *retrying) Subscribe(ctx context.Context, tokens []string, topic string) error {
	return r.do(ctx, "subscribe", func() error { return r.next.Subscribe(ctx, tokens, topic) })
}

func (r *retrying) Unsubscribe(ctx context.Context, tokens []string, topic string) error {
	return r.do(ctx, "unsubscribe", func() error { return r.next.Unsubscribe(ctx, tokens, topic) })
}

func (r *retrying) Send(ctx context.Context, topic string, n Notification) error {
	return r.do(ctx, "send", func() error { return r.next.Send(ctx, topic, n) })
}
