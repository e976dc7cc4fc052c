package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tasksetu-api/domain"
)

// Memory is an in-process store used in local mode and tests. It implements
// the same task, subtask and activity operations as Storage.
type Memory struct {
	mu       sync.RWMutex
	tasks    map[string]domain.Task
	subtasks map[string]map[string]domain.Subtask
	activity map[string][]domain.ActivityRecord
	seen     map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		tasks:    map[string]domain.Task{},
		subtasks: map[string]map[string]domain.Subtask{},
		activity: map[string][]domain.ActivityRecord{},
		seen:     map[string]struct{}{},
	}
}

func (m *Memory) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	t = t.Clone()
	return &t, nil
}

func (m *Memory) InsertTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) UpdateTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return domain.ErrTaskNotFound
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

// GetSubtasks returns the subtasks of a task ordered by id.
func (m *Memory) GetSubtasks(ctx context.Context, taskID string) ([]domain.Subtask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Subtask, 0, len(m.subtasks[taskID]))
	for _, st := range m.subtasks[taskID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertSubtask(ctx context.Context, st domain.Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.subtasks[st.TaskID]
	if !ok {
		byID = map[string]domain.Subtask{}
		m.subtasks[st.TaskID] = byID
	}
	byID[st.ID] = st
	return nil
}

// Append records activity directly, standing in for the queue and projector.
func (m *Memory) Append(ctx context.Context, rec domain.ActivityRecord) error {
	return m.InsertActivity(ctx, rec)
}

// InsertActivity stores a record once; repeated ids are ignored.
func (m *Memory) InsertActivity(ctx context.Context, rec domain.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[rec.ID]; dup {
		return nil
	}
	m.seen[rec.ID] = struct{}{}
	list := append(m.activity[rec.TaskID], rec)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	m.activity[rec.TaskID] = list
	return nil
}

func (m *Memory) ListActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ActivityRecord{}, m.activity[taskID]...), nil
}
