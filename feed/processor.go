package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"tasksetu-api/domain"
)

// ActivityStore is the durable activity history.
type ActivityStore interface {
	InsertActivity(ctx context.Context, rec domain.ActivityRecord) error
}

// Queue yields activity messages written by the API.
type Queue interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

// ErrUndecodable marks a message that can never be applied.
var ErrUndecodable = errors.New("undecodable activity message")

// Processor projects activity records into the history table and announces
// them to live subscribers.
type Processor struct {
	store     ActivityStore
	publisher domain.ActivitySink
	log       *log.Logger
}

// NewProcessor builds a Processor. publisher may be nil when no live feed is
// configured.
func NewProcessor(store ActivityStore, publisher domain.ActivitySink, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Processor{store: store, publisher: publisher, log: logger}
}

// Process applies one encoded record. Publishing is best effort: a record
// that reached the table is never retried because Redis was down.
func (p *Processor) Process(ctx context.Context, payload string) error {
	var rec domain.ActivityRecord
	if err := sonic.UnmarshalString(payload, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if err := p.store.InsertActivity(ctx, rec); err != nil {
		return fmt.Errorf("insert activity %s: %w", rec.ID, err)
	}
	if p.publisher != nil {
		if err := p.publisher.Append(ctx, rec); err != nil {
			p.log.WithError(err).WithFields(log.Fields{"task": rec.TaskID, "activity": rec.ID}).Error("Unable to publish activity")
		}
	}
	p.log.WithFields(log.Fields{"task": rec.TaskID, "activity": rec.ID, "type": rec.Kind()}).Debug("activity projected")
	return nil
}

// Run drains q until ctx is cancelled, sleeping for idle whenever the queue
// is empty or unreachable. Messages that fail to insert stay on the queue and
// are retried once they become visible again.
func (p *Processor) Run(ctx context.Context, q Queue, idle time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msg, err := q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.WithError(err).Error("receive")
			sleep(ctx, idle)
			continue
		}
		if msg == nil || msg.MessageText == nil {
			sleep(ctx, idle)
			continue
		}
		if err := p.Process(ctx, *msg.MessageText); err != nil {
			if !errors.Is(err, ErrUndecodable) {
				p.log.WithError(err).Warn("activity not projected, leaving message for retry")
				continue
			}
			p.log.WithError(err).Error("dropping activity message")
		}
		if msg.MessageID != nil && msg.PopReceipt != nil {
			if err := q.Delete(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
				p.log.WithError(err).WithField("message", *msg.MessageID).Error("delete message")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
