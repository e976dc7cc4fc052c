package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "tasksetu-api/api"
	commandSpanName     = "tasksetu.api.command"
	commandEventName    = "tasks.command"
	commandEventDomain  = "tasksetu.api"
	observabilityEvent  = "observability.event"
	attrPrefix          = "tasksetu.command."
	severityTextInfo    = "INFO"
	severityTextWarn    = "WARN"
	severityTextError   = "ERROR"
	severityNumberInfo  = 9
	severityNumberWarn  = 13
	severityNumberError = 17
)

// Metrics holds the workflow counters exported on /metrics.
type Metrics struct {
	commands   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	warnings   prometheus.Counter
}

// NewMetrics registers the workflow counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasksetu",
			Name:      "commands_total",
			Help:      "Task commands handled, by type and outcome.",
		}, []string{"type", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasksetu",
			Name:      "workflow_rejections_total",
			Help:      "Commands rejected by a workflow rule, by error kind.",
		}, []string{"kind"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tasksetu",
			Name:      "activity_warnings_total",
			Help:      "Accepted commands whose activity record could not be appended.",
		}),
	}
	reg.MustRegister(m.commands, m.rejections, m.warnings)
	return m
}

func (m *Metrics) observe(commandType, outcome, kind string, warned bool) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(commandType, outcome).Inc()
	if kind != "" {
		m.rejections.WithLabelValues(kind).Inc()
	}
	if warned {
		m.warnings.Inc()
	}
}

// requestMetrics records one command request as an otel span plus an
// observability.event log entry carrying the same attributes.
type requestMetrics struct {
	logger   *log.Logger
	counters *Metrics
	span     trace.Span
	start    time.Time

	route       string
	taskID      string
	commandType string
	errorKind   string
	errorStage  string
	duplicate   bool
	warned      bool
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, counters *Metrics, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, commandSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger:   logger,
		counters: counters,
		span:     span,
		start:    time.Now(),
		route:    route,
	}, spanCtx
}

func (m *requestMetrics) SetTask(id string) { m.taskID = id }

func (m *requestMetrics) SetCommandType(t string) { m.commandType = t }

func (m *requestMetrics) SetErrorKind(kind string) { m.errorKind = kind }

func (m *requestMetrics) SetDuplicate() { m.duplicate = true }

func (m *requestMetrics) SetWarned() { m.warned = true }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) attributes(status int, err error) map[string]any {
	attrs := map[string]any{
		"http.route":                 m.route,
		"http.status_code":           status,
		attrPrefix + "total_ms":      durationToMillis(time.Since(m.start)),
		attrPrefix + "duplicate":     m.duplicate,
		attrPrefix + "activity_lost": m.warned,
	}
	if m.taskID != "" {
		attrs[attrPrefix+"task_id"] = m.taskID
	}
	if m.commandType != "" {
		attrs[attrPrefix+"type"] = m.commandType
	}
	if m.errorKind != "" {
		attrs[attrPrefix+"error_kind"] = m.errorKind
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	return attrs
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status, err)
	severityText, severityNumber := severityForStatus(status, err)

	kvs := toKeyValues(attrs)
	m.span.SetAttributes(kvs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", commandEventName),
		attribute.String("event.domain", commandEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, kvs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
	if severityText == severityTextError {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
			m.span.RecordError(err)
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	outcome := "ok"
	switch {
	case m.duplicate:
		outcome = "duplicate"
	case severityText != severityTextInfo:
		outcome = "rejected"
		if severityText == severityTextError {
			outcome = "error"
		}
	}
	m.counters.observe(m.commandType, outcome, m.errorKind, m.warned)

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      commandEventName,
		"event.domain":    commandEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if sc := m.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case severityTextError:
		entry.Error(observabilityEvent)
	case severityTextWarn:
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError || (status == 0 && err != nil):
		return severityTextError, severityNumberError
	case status >= http.StatusBadRequest:
		return severityTextWarn, severityNumberWarn
	default:
		return severityTextInfo, severityNumberInfo
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
