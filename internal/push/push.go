// Package push 按 topic 尽力推送通知。topic 以房间 id 命名，设备 push token 订阅它。
package push

import (
	"context"

	"github.com/rs/zerolog/log"
)

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Gateway 是推送服务的抽象，实现需要接受空的 token 列表。
type Gateway interface {
	Subscribe(ctx context.Context, tokens []string, topic string) error
	Unsubscribe(ctx context.Context, tokens []string, topic string) error
	Send(ctx context.Context, topic string, n Notification) error
}

// Nop 只打日志，未配置推送后端时使用。
type Nop struct{}

func (Nop) Subscribe(_ context.Context, tokens []string, topic string) error {
	log.Debug().Str("topic", topic).Int("tokens", len(tokens)).Msg("push subscribe skipped")
	return nil
}

func (Nop) Unsubscribe(_ context.Context, tokens []string, topic string) error {
	log.Debug().Str("topic", topic).Int("tokens", len(tokens)).Msg("push unsubscribe skipped")
	return nil
}

func (Nop) Send(_ context.Context, topic string, n Notification) error {
	log.Debug().Str("topic", topic).Str("title", n.Title).Msg("push send skipped")
	return nil
}

// compact 去掉空 token，未登记设备的用户没有 token。
func compact(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
