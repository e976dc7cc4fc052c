package activity

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tasksetu-api/domain"
)

// Publisher broadcasts activity records on a Redis channel for live feeds.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Append(ctx context.Context, rec domain.ActivityRecord) error {
	payload, err := sonic.MarshalString(rec)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
