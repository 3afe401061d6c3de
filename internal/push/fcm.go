package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCM 通过 Firebase Cloud Messaging 的 topic 推送。
type FCM struct {
	client *messaging.Client
}

func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &FCM{client: client}, nil
}

func (f *FCM) Subscribe(ctx context.Context, tokens []string, topic string) error {
	tokens = compact(tokens)
	if len(tokens) == 0 {
		return nil
	}
	resp, err := f.client.SubscribeToTopic(ctx, tokens, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return topicFailure("subscribe", topic, resp)
}

func (f *FCM) Unsubscribe(ctx context.Context, tokens []string, topic string) error {
	tokens = compact(tokens)
	if len(tokens) == 0 {
		return nil
	}
	resp, err := f.client.UnsubscribeFromTopic(ctx, tokens, topic)
	if err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", topic, err)
	}
	return topicFailure("unsubscribe", topic, resp)
}

func (f *FCM) Send(ctx context.Context, topic string, n Notification) error {
	_, err := f.client.Send(ctx, &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}

func topicFailure(op, topic string, resp *messaging.TopicManagementResponse) error {
	if resp == nil || resp.FailureCount == 0 {
		return nil
	}
	reason := ""
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		reason = resp.Errors[0].Reason
	}
	return fmt.Errorf("%s %s: %d of %d tokens failed: %s", op, topic, resp.FailureCount, resp.FailureCount+resp.SuccessCount, reason)
}
