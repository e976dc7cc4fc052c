package domain

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// TaskStore persists task snapshots. GetTask returns (nil, nil) when the task
// does not exist.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	InsertTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, t Task) error
}

// SubtaskStore owns subtasks. The workflow only reads them; UpsertSubtask is
// used by callers managing subtasks directly.
type SubtaskStore interface {
	GetSubtasks(ctx context.Context, taskID string) ([]Subtask, error)
	UpsertSubtask(ctx context.Context, st Subtask) error
}

// ActivitySink receives every emitted activity record.
type ActivitySink interface {
	Append(ctx context.Context, rec ActivityRecord) error
}

// EditPolicy grants edit permission for a loaded task on top of the flag the
// caller put on the actor.
type EditPolicy func(t Task, actor Actor) bool

// Result is what the service returns for an accepted operation. Warning is
// set when the task was saved but the activity sink failed.
type Result struct {
	Task     Task
	Activity *ActivityRecord
	Warning  error
}

// Service runs engine operations against stored tasks.
type Service struct {
	engine   *Engine
	tasks    TaskStore
	subtasks SubtaskStore
	sink     ActivitySink
	policy   EditPolicy
	log      *log.Logger
}

func NewService(engine *Engine, tasks TaskStore, subtasks SubtaskStore, sink ActivitySink, logger *log.Logger) *Service {
	if engine == nil {
		engine = NewEngine(nil, nil)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{engine: engine, tasks: tasks, subtasks: subtasks, sink: sink, log: logger}
}

// WithEditPolicy installs p and returns s.
func (s *Service) WithEditPolicy(p EditPolicy) *Service {
	s.policy = p
	return s
}

func (s *Service) CreateTask(ctx context.Context, title string, priority Priority, assignee Assignee, actor Actor) (Result, error) {
	out, err := s.engine.NewTask(title, priority, assignee, actor)
	if err != nil {
		return Result{}, err
	}
	if err := s.tasks.InsertTask(ctx, out.Task); err != nil {
		return Result{}, fmt.Errorf("insert task: %w", err)
	}
	return s.publish(ctx, out), nil
}

func (s *Service) GetTask(ctx context.Context, id string) (Task, error) {
	t, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	if t == nil {
		return Task{}, ErrTaskNotFound
	}
	return *t, nil
}

func (s *Service) Subtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	subtasks, err := s.subtasks.GetSubtasks(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get subtasks of %s: %w", taskID, err)
	}
	return subtasks, nil
}

func (s *Service) AvailableTransitions(ctx context.Context, id string) ([]Status, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	subtasks, err := s.Subtasks(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.AvailableTransitions(t, subtasks), nil
}

func (s *Service) RequestStatusChange(ctx context.Context, id string, target Status, actor Actor, confirmed bool) (Result, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	subtasks, err := s.Subtasks(ctx, id)
	if err != nil {
		return Result{}, err
	}
	out, err := s.engine.RequestStatusChange(t, subtasks, target, s.actorFor(t, actor), confirmed)
	return s.commit(ctx, out, err)
}

func (s *Service) ChangePriority(ctx context.Context, id string, p Priority, actor Actor) (Result, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	out, err := s.engine.ChangePriority(t, p, s.actorFor(t, actor))
	return s.commit(ctx, out, err)
}

func (s *Service) Reassign(ctx context.Context, id string, to Assignee, actor Actor) (Result, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	out, err := s.engine.Reassign(t, to, s.actorFor(t, actor))
	return s.commit(ctx, out, err)
}

func (s *Service) Snooze(ctx context.Context, id string, until time.Time, note string, actor Actor) (Result, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	out, err := s.engine.Snooze(t, until, note, s.actorFor(t, actor))
	return s.commit(ctx, out, err)
}

func (s *Service) Unsnooze(ctx context.Context, id string, actor Actor) (Result, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	out, err := s.engine.Unsnooze(t, s.actorFor(t, actor))
	return s.commit(ctx, out, err)
}

func (s *Service) MarkRisk(ctx context.Context, id, note string, actor Actor) (Result, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	out, err := s.engine.MarkRisk(t, note, s.actorFor(t, actor))
	return s.commit(ctx, out, err)
}

func (s *Service) ClearRisk(ctx context.Context, id string, actor Actor) (Result, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	out, err := s.engine.ClearRisk(t, s.actorFor(t, actor))
	return s.commit(ctx, out, err)
}

// UpsertSubtask writes a subtask of an existing task to the subtask store.
func (s *Service) UpsertSubtask(ctx context.Context, st Subtask) (Subtask, error) {
	if st.ID == "" {
		return Subtask{}, rejectf(KindInvalidArgument, "subtask id is required")
	}
	if !st.Status.IsValid() {
		return Subtask{}, rejectf(KindInvalidArgument, "unknown subtask status %q", st.Status)
	}
	if st.Priority != "" && !st.Priority.IsValid() {
		return Subtask{}, rejectf(KindInvalidArgument, "unknown priority %q", st.Priority)
	}
	if _, err := s.GetTask(ctx, st.TaskID); err != nil {
		return Subtask{}, err
	}
	if err := s.subtasks.UpsertSubtask(ctx, st); err != nil {
		return Subtask{}, fmt.Errorf("upsert subtask %s: %w", st.ID, err)
	}
	return st, nil
}

func (s *Service) actorFor(t Task, actor Actor) Actor {
	if !actor.CanEdit && s.policy != nil {
		actor.CanEdit = s.policy(t, actor)
	}
	return actor
}

// commit saves an accepted outcome and hands its activity to the sink.
// Rejections and no-ops touch nothing.
func (s *Service) commit(ctx context.Context, out Outcome, opErr error) (Result, error) {
	if opErr != nil {
		return Result{}, opErr
	}
	if !out.Changed() {
		return Result{Task: out.Task}, nil
	}
	if err := s.tasks.UpdateTask(ctx, out.Task); err != nil {
		return Result{}, fmt.Errorf("update task %s: %w", out.Task.ID, err)
	}
	return s.publish(ctx, out), nil
}

func (s *Service) publish(ctx context.Context, out Outcome) Result {
	res := Result{Task: out.Task, Activity: out.Activity}
	if s.sink == nil || out.Activity == nil {
		return res
	}
	if err := s.sink.Append(ctx, *out.Activity); err != nil {
		s.log.WithError(err).WithFields(log.Fields{
			"task":     out.Task.ID,
			"activity": out.Activity.ID,
			"type":     out.Activity.Kind(),
		}).Warn("activity sink append failed")
		res.Warning = fmt.Errorf("activity not recorded: %w", err)
	}
	return res
}
