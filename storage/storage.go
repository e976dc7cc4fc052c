package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"tasksetu-api/domain"
)

// Names selects the tables and queue used by Storage.
type Names struct {
	Tasks         string
	Subtasks      string
	Activity      string
	ActivityQueue string
}

type tableAPI interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, o *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Storage keeps tasks, subtasks and activity in Azure tables and carries
// activity records between the API and the feed projector on a queue.
type Storage struct {
	taskTable     tableAPI
	subtaskTable  tableAPI
	activityTable tableAPI
	activityQueue queueAPI
}

var retryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// New creates a Storage instance from the given connection string.
func New(connStr string, names Names) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, names.ActivityQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:     svc.NewClient(names.Tasks),
		subtaskTable:  svc.NewClient(names.Subtasks),
		activityTable: svc.NewClient(names.Activity),
		activityQueue: q,
	}, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// GetTask retrieves a task if present.
func (s *Storage) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	t := ent.task()
	return &t, nil
}

// InsertTask adds a new task row and fails if the id is taken.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	payload, err := sonic.Marshal(toTaskEntity(t))
	if err == nil {
		_, err = s.taskTable.AddEntity(ctx, payload, nil)
	}
	return err
}

// UpdateTask replaces the stored task. Missing tasks surface as
// domain.ErrTaskNotFound.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	payload, err := sonic.Marshal(toTaskEntity(t))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if statusCode(err) == http.StatusNotFound {
		return domain.ErrTaskNotFound
	}
	return err
}

// GetSubtasks lists the subtasks of a task.
func (s *Storage) GetSubtasks(ctx context.Context, taskID string) ([]domain.Subtask, error) {
	filter := partitionFilter(taskID)
	pager := s.subtaskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	subtasks := []domain.Subtask{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent subtaskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			subtasks = append(subtasks, ent.subtask())
		}
	}
	return subtasks, nil
}

// UpsertSubtask creates or replaces a subtask row.
func (s *Storage) UpsertSubtask(ctx context.Context, st domain.Subtask) error {
	payload, err := sonic.Marshal(toSubtaskEntity(st))
	if err == nil {
		_, err = s.subtaskTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

// Append sends an activity record to the activity queue.
func (s *Storage) Append(ctx context.Context, rec domain.ActivityRecord) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.activityQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Dequeue retrieves a single message from the activity queue, or nil when
// the queue is empty.
func (s *Storage) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.activityQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a processed message from the queue.
func (s *Storage) Delete(ctx context.Context, id, receipt string) error {
	_, err := s.activityQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// InsertActivity writes a record to the activity table. A record that was
// already written is not an error, so redelivered messages are harmless.
func (s *Storage) InsertActivity(ctx context.Context, rec domain.ActivityRecord) error {
	payload, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	ent := activityEntity{
		entity:        entity{PartitionKey: rec.TaskID, RowKey: activityRowKey(rec)},
		Type:          string(rec.Kind()),
		ActorID:       rec.ActorID,
		Timestamp:     rec.Timestamp.UnixNano(),
		TimestampType: edmInt64,
		Payload:       string(payload),
	}
	data, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.activityTable.AddEntity(ctx, data, nil)
	if statusCode(err) == http.StatusConflict {
		return nil
	}
	return err
}

// ListActivity returns the history of a task, oldest first.
func (s *Storage) ListActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error) {
	filter := partitionFilter(taskID)
	pager := s.activityTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	records := []domain.ActivityRecord{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			rec, err := decodeActivityEntity(e)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func decodeActivityEntity(data []byte) (domain.ActivityRecord, error) {
	var ent activityEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.ActivityRecord{}, err
	}
	var rec domain.ActivityRecord
	if err := sonic.UnmarshalString(ent.Payload, &rec); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("decode activity %s: %w", ent.RowKey, err)
	}
	return rec, nil
}
