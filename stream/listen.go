package stream

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksetu-api/domain"
)

// Listen relays records published on channel to hub until ctx is done,
// resubscribing when the Redis connection drops.
func Listen(ctx context.Context, rc *redis.Client, channel string, hub *Hub, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var rec domain.ActivityRecord
				if err := sonic.UnmarshalString(msg.Payload, &rec); err != nil {
					logger.WithError(err).Error("unable to parse activity")
					continue
				}
				n := hub.Broadcast(rec)
				logger.WithFields(log.Fields{"task": rec.TaskID, "activity": rec.ID, "subscribers": n}).Debug("activity relayed")
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
