package storage

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
)

type fakeTable struct {
	mu   sync.Mutex
	rows map[string]map[string][]byte
	// pageSize splits list results to exercise paging.
	pageSize int
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string][]byte{}, pageSize: 2}
}

func responseError(code int) error {
	return &azcore.ResponseError{StatusCode: code}
}

func keysOf(data []byte) (string, string) {
	var keys entity
	_ = sonic.Unmarshal(data, &keys)
	return keys.PartitionKey, keys.RowKey
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.rows[pk][rk]
	if !ok {
		return aztables.GetEntityResponse{}, responseError(http.StatusNotFound)
	}
	return aztables.GetEntityResponse{Value: v}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, e []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, rk := keysOf(e)
	if _, ok := f.rows[pk][rk]; ok {
		return aztables.AddEntityResponse{}, responseError(http.StatusConflict)
	}
	f.put(pk, rk, e)
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, e []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, rk := keysOf(e)
	if _, ok := f.rows[pk][rk]; !ok {
		return aztables.UpdateEntityResponse{}, responseError(http.StatusNotFound)
	}
	f.put(pk, rk, e)
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) UpsertEntity(ctx context.Context, e []byte, o *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, rk := keysOf(e)
	f.put(pk, rk, e)
	return aztables.UpsertEntityResponse{}, nil
}

func (f *fakeTable) put(pk, rk string, e []byte) {
	if f.rows[pk] == nil {
		f.rows[pk] = map[string][]byte{}
	}
	f.rows[pk][rk] = append([]byte(nil), e...)
}

func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	var all [][]byte
	for pk, byRow := range f.rows {
		if o == nil || o.Filter == nil || *o.Filter == partitionFilter(pk) {
			keys := make([]string, 0, len(byRow))
			for rk := range byRow {
				keys = append(keys, rk)
			}
			sort.Strings(keys)
			for _, rk := range keys {
				all = append(all, byRow[rk])
			}
		}
	}
	f.mu.Unlock()

	offset := 0
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return offset < len(all) },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			end := offset + f.pageSize
			if end > len(all) {
				end = len(all)
			}
			page := all[offset:end]
			offset = end
			return aztables.ListEntitiesResponse{Entities: page}, nil
		},
	})
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	deleted  []string
	failWith error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return azqueue.EnqueueMessagesResponse{}, f.failWith
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return azqueue.DequeueMessagesResponse{}, nil
	}
	text := f.messages[0]
	f.messages = f.messages[1:]
	id, receipt := "m1", "r1"
	return azqueue.DequeueMessagesResponse{Messages: []*azqueue.DequeuedMessage{{MessageID: &id, PopReceipt: &receipt, MessageText: &text}}}, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, id, receipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" || receipt == "" {
		return azqueue.DeleteMessageResponse{}, errors.New("missing receipt")
	}
	f.deleted = append(f.deleted, id)
	return azqueue.DeleteMessageResponse{}, nil
}

func newFakeStorage() (*Storage, *fakeQueue) {
	q := &fakeQueue{}
	return &Storage{
		taskTable:     newFakeTable(),
		subtaskTable:  newFakeTable(),
		activityTable: newFakeTable(),
		activityQueue: q,
	}, q
}
