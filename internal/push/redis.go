package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel 是发布通知的 Redis 频道，由外部投递程序消费。
const Channel = "push:notifications"

// Redis 用 set 保存 topic 成员，发布通知时带上 topic 当前的 token 列表。
type Redis struct {
	rdb *redis.Client
}

// Delivery 是发布到 Channel 的内容。
type Delivery struct {
	Topic  string   `json:"topic"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Tokens []string `json:"tokens"`
}

func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func topicKey(topic string) string { return "push:topic:" + topic }

func members(tokens []string) []any {
	out := make([]any, len(tokens))
	for i, t := range tokens {
		out[i] = t
	}
	return out
}

func (r *Redis) Subscribe(ctx context.Context, tokens []string, topic string) error {
	tokens = compact(tokens)
	if len(tokens) == 0 {
		return nil
	}
	return r.rdb.SAdd(ctx, topicKey(topic), members(tokens)...).Err()
}

func (r *Redis) Unsubscribe(ctx context.Context, tokens []string, topic string) error {
	tokens = compact(tokens)
	if len(tokens) == 0 {
		return nil
	}
	return r.rdb.SRem(ctx, topicKey(topic), members(tokens)...).Err()
}

// Send 在 topic 没有订阅者时不发布。
func (r *Redis) Send(ctx context.Context, topic string, n Notification) error {
	tokens, err := r.rdb.SMembers(ctx, topicKey(topic)).Result()
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	b, err := json.Marshal(Delivery{Topic: topic, Title: n.Title, Body: n.Body, Tokens: tokens})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, Channel, b).Err()
}

// Topic 列出当前订阅 topic 的 token。
func (r *Redis) Topic(ctx context.Context, topic string) ([]string, error) {
	return r.rdb.SMembers(ctx, topicKey(topic)).Result()
}
