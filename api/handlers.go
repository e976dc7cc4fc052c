package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksetu-api/domain"
	"tasksetu-api/stream"
)

// Deps are the collaborators the HTTP layer is built from. Deduper, Hub,
// Metrics and Health are optional.
type Deps struct {
	Service  *domain.Service
	Activity ActivityLog
	Auth     Authenticator
	Deduper  Deduper
	Hub      *stream.Hub
	Metrics  *Metrics
	Health   func(ctx context.Context) error
	Logger   *log.Logger
}

const streamHeartbeat = 25 * time.Second

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	e.JSONSerializer = sonicSerializer{}
	e.GET("/healthz", healthz(d.Health))
	e.POST("/api/tasks", createTask(d))
	e.GET("/api/tasks/:id", getTask(d))
	e.GET("/api/tasks/:id/transitions", getTransitions(d))
	e.POST("/api/tasks/:id/commands", postCommand(d))
	e.PUT("/api/tasks/:id/subtasks/:subtaskId", putSubtask(d))
	e.GET("/api/tasks/:id/activity", getActivity(d))
	e.GET("/api/tasks/:id/activity/stream", streamActivity(d))
}

func healthz(check func(ctx context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if check != nil {
			if err := check(c.Request().Context()); err != nil {
				return c.String(http.StatusServiceUnavailable, err.Error())
			}
		}
		return c.NoContent(http.StatusOK)
	}
}

// failure writes the error body for err and logs unexpected failures.
func failure(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.JSON(status, errorResponse(err))
}

func createTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		principal, err := d.Auth.PrincipalFromAuthHeader(authHeader(c))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createTaskRequest
		if err := decodeBody(c, postBodyMaxSize, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse(err))
		}
		var priority domain.Priority
		if req.Priority != "" {
			if priority, err = domain.ParsePriority(req.Priority); err != nil {
				return c.JSON(http.StatusBadRequest, errorResponse(invalidArgument(err)))
			}
		}
		res, err := d.Service.CreateTask(c.Request().Context(), req.Title, priority,
			domain.Assignee{ID: strings.TrimSpace(req.AssigneeID), Name: req.AssigneeName}, principal.Actor())
		if err != nil {
			return failure(c, d.Logger, err)
		}
		return c.JSON(http.StatusCreated, taskResponse{
			Task:                 res.Task,
			AvailableTransitions: domain.AllowedTransitions(res.Task.Status),
			Activity:             res.Activity,
		})
	}
}

func getTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := d.Auth.PrincipalFromAuthHeader(authHeader(c)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		id := c.Param("id")
		task, err := d.Service.GetTask(ctx, id)
		if err != nil {
			return failure(c, d.Logger, err)
		}
		transitions, err := d.Service.AvailableTransitions(ctx, id)
		if err != nil {
			return failure(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, taskResponse{Task: task, AvailableTransitions: transitions})
	}
}

func getTransitions(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := d.Auth.PrincipalFromAuthHeader(authHeader(c)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		transitions, err := d.Service.AvailableTransitions(c.Request().Context(), c.Param("id"))
		if err != nil {
			return failure(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, transitionsResponse{AvailableTransitions: transitions})
	}
}

func postCommand(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newRequestMetrics(ctx, d.Logger, d.Metrics, "/api/tasks/:id/commands")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		taskID := c.Param("id")
		metrics.SetTask(taskID)

		principal, authErr := d.Auth.PrincipalFromAuthHeader(authHeader(c))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		var cmd domain.Command
		if decErr := decodeBody(c, postCommandMaxSize, &cmd); decErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse(decErr))
		}
		metrics.SetCommandType(string(cmd.Type))

		accepted := false
		if cmd.IdempotencyKey != "" && d.Deduper != nil {
			added, dedupErr := d.Deduper.Add(ctx, taskID, cmd.IdempotencyKey)
			if dedupErr != nil {
				metrics.SetErrorStage("dedupe")
				d.Logger.WithError(dedupErr).WithField("task", taskID).Error("dedupe check failed")
				return c.JSON(http.StatusInternalServerError, errorResponse(dedupErr))
			}
			if !added {
				metrics.SetDuplicate()
				return c.JSON(http.StatusConflict, commandResponse{OK: false, Error: errDuplicateCommand, Message: "duplicate command"})
			}
			// The key is kept only once the command succeeded. Failures and
			// panics release it so the client may retry.
			defer func() {
				if accepted {
					return
				}
				if rerr := d.Deduper.Remove(context.WithoutCancel(ctx), taskID, cmd.IdempotencyKey); rerr != nil {
					d.Logger.WithError(rerr).WithFields(log.Fields{"task": taskID, "key": cmd.IdempotencyKey}).Error("dedupe rollback failed")
				}
			}()
		}

		res, execErr := domain.Execute(ctx, d.Service, taskID, cmd, principal.Actor())
		if execErr != nil {
			if kind, ok := domain.KindOf(execErr); ok {
				metrics.SetErrorKind(string(kind))
			} else {
				metrics.SetErrorStage("service")
			}
			return failure(c, d.Logger, execErr)
		}

		accepted = true
		resp := commandResponse{OK: true, Task: &res.Task, Activity: res.Activity}
		if res.Warning != nil {
			metrics.SetWarned()
			resp.Warning = res.Warning.Error()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func putSubtask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := d.Auth.PrincipalFromAuthHeader(authHeader(c)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req upsertSubtaskRequest
		if err := decodeBody(c, postBodyMaxSize, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse(err))
		}
		status, err := domain.ParseSubtaskStatus(req.Status)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse(invalidArgument(err)))
		}
		st := domain.Subtask{
			ID:         c.Param("subtaskId"),
			TaskID:     c.Param("id"),
			Title:      req.Title,
			Status:     status,
			AssigneeID: req.AssigneeID,
			Priority:   domain.Priority(req.Priority),
			DueDate:    req.DueDate,
		}
		saved, err := d.Service.UpsertSubtask(c.Request().Context(), st)
		if err != nil {
			return failure(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, saved)
	}
}

func getActivity(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := d.Auth.PrincipalFromAuthHeader(authHeader(c)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		id := c.Param("id")
		if _, err := d.Service.GetTask(ctx, id); err != nil {
			return failure(c, d.Logger, err)
		}
		records, err := d.Activity.ListActivity(ctx, id)
		if err != nil {
			return failure(c, d.Logger, err)
		}
		items := make([]activityItem, 0, len(records))
		for _, r := range records {
			items = append(items, activityItem{Record: r, Summary: domain.Describe(r)})
		}
		return c.JSON(http.StatusOK, activityResponse{Activity: items})
	}
}

func streamActivity(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := d.Auth.PrincipalFromAuthHeader(authHeader(c)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if d.Hub == nil {
			return c.String(http.StatusNotImplemented, "stream unavailable")
		}
		ctx := c.Request().Context()
		id := c.Param("id")
		if _, err := d.Service.GetTask(ctx, id); err != nil {
			return failure(c, d.Logger, err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		c.Response().Flush()

		records, cancel := d.Hub.Subscribe(id)
		defer cancel()
		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-heartbeat.C:
				if _, err := io.WriteString(c.Response(), ": ping\n\n"); err != nil {
					return nil
				}
				c.Response().Flush()
			case rec, ok := <-records:
				if !ok {
					return nil
				}
				data, err := sonic.Marshal(rec)
				if err != nil {
					d.Logger.WithError(err).WithField("activity", rec.ID).Error("encode activity")
					continue
				}
				if err := writeEvent(c.Response(), "activity", data); err != nil {
					return nil
				}
				c.Response().Flush()
			}
		}
	}
}

func writeEvent(w io.Writer, event string, data []byte) error {
	if _, err := io.WriteString(w, "event: "+event+"\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n\n")
	return err
}

// decodeBody reads at most limit bytes of JSON into v, rejecting unknown
// fields. Failures are reported as InvalidArgument.
func decodeBody(c echo.Context, limit int64, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalidArgument(errors.New("empty body"))
		}
		return invalidArgument(errors.New("invalid body"))
	}
	return nil
}

func invalidArgument(err error) error {
	return &domain.WorkflowError{Kind: domain.KindInvalidArgument, Detail: err.Error()}
}
