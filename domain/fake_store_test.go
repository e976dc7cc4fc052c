package domain

import (
	"context"
	"errors"
	"time"
)

type fakeStore struct {
	tasks      map[string]Task
	subtasks   map[string][]Subtask
	updates    int
	updateErr  error
	subtaskErr error
}

func newFakeStore(tasks ...Task) *fakeStore {
	f := &fakeStore{tasks: map[string]Task{}, subtasks: map[string][]Subtask{}}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	if _, exists := f.tasks[t.ID]; exists {
		return errors.New("conflict")
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t Task) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates++
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) GetSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	if f.subtaskErr != nil {
		return nil, f.subtaskErr
	}
	return append([]Subtask(nil), f.subtasks[taskID]...), nil
}

func (f *fakeStore) UpsertSubtask(ctx context.Context, st Subtask) error {
	list := f.subtasks[st.TaskID]
	for i := range list {
		if list[i].ID == st.ID {
			list[i] = st
			return nil
		}
	}
	f.subtasks[st.TaskID] = append(list, st)
	return nil
}

type fakeSink struct {
	records []ActivityRecord
	err     error
}

func (f *fakeSink) Append(ctx context.Context, rec ActivityRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "act-" + string(rune('a'+n-1))
	}
}

func openTask() Task {
	return Task{
		ID:        "t1",
		Title:     "Prepare quarterly report",
		Status:    StatusOpen,
		Priority:  PriorityMedium,
		CreatedBy: "creator",
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}
