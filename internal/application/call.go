package application

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability/logctx"
)

const spanPrefix = "UC."

// Instruments bundles what a use case reports to.
type Instruments struct {
	tracer observability.Tracer
	log    observability.Logger
	red    *redCache
}

// redSet is the RED instruments of one use case, bound once and reused by
// every call.
type redSet struct {
	success  observability.BoundCounter // usecase_requests_total{use_case,outcome="success"}
	failure  observability.BoundCounter // usecase_requests_total{use_case,outcome="error"}
	duration observability.BoundHistogram
}

type redCache struct {
	requests observability.Counter
	duration observability.Histogram

	mu   sync.Mutex
	sets map[string]*redSet
}

func (r *redCache) forUseCase(useCase string) *redSet {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sets[useCase]; ok {
		return s
	}
	uc := observability.L("use_case", useCase)
	s := &redSet{
		success:  r.requests.Bind(uc, observability.L("outcome", "success")),
		failure:  r.requests.Bind(uc, observability.L("outcome", "error")),
		duration: r.duration.Bind(uc),
	}
	r.sets[useCase] = s
	return s
}

// NewInstruments resolves tracer, base logger and RED metrics from tel.
// A nil tel yields no-op instruments.
func NewInstruments(tel observability.Observability, service string) Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	return Instruments{
		tracer: tel.Tracer(),
		log:    tel.Logger().With(observability.F("service", service)),
		red: &redCache{
			requests: tel.Metrics().Counter(observability.MUsecaseRequests),
			duration: tel.Metrics().Histogram(observability.MUsecaseDuration),
			sets:     make(map[string]*redSet),
		},
	}
}

func (in Instruments) Logger() observability.Logger { return in.log }

// Call tracks one use case execution. End must be called exactly once.
type Call struct {
	red     *redSet
	useCase string
	span    trace.Span
	logger  observability.Logger
	start   time.Time
	outcome string
	status  string
	fields  []observability.Field
}

// Begin starts the span and binds a request-scoped logger to ctx.
func (in Instruments) Begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Call) {
	logger := logctx.FromOr(ctx, in.log).With(observability.F("use_case", useCase))

	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.tracer.Start(ctx, spanPrefix+spanName, attrs...)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	var red *redSet
	if in.red != nil {
		red = in.red.forUseCase(useCase)
	}
	return ctx, &Call{
		red:     red,
		useCase: useCase,
		span:    span,
		logger:  logger,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

func (c *Call) Logger() observability.Logger { return c.logger }

func (c *Call) Span() trace.Span { return c.span }

// Fail marks the call as failed with a machine-readable status.
func (c *Call) Fail(status string) {
	c.outcome, c.status = "error", status
}

// Status overrides the status text without changing the outcome.
func (c *Call) Status(status string) { c.status = status }

// With adds fields to the final use_case_done record.
func (c *Call) With(fields ...observability.Field) { c.fields = append(c.fields, fields...) }

func (c *Call) End(err error) {
	lat := time.Since(c.start).Seconds()
	if err != nil && c.outcome != "error" {
		c.outcome = "error"
		if c.status == "OK" {
			c.status = "FAILED"
		}
	}

	if c.span != nil {
		if err != nil {
			c.span.RecordError(err)
			c.span.SetStatus(codes.Error, c.status)
		} else {
			c.span.SetStatus(codes.Ok, c.status)
		}
		c.span.End()
	}

	if c.red != nil {
		if c.outcome == "error" {
			c.red.failure.Add(1)
		} else {
			c.red.success.Add(1)
		}
		c.red.duration.Observe(lat)
	}

	fields := append([]observability.Field{
		observability.F("outcome", c.outcome),
		observability.F("status", c.status),
		observability.F("latency_seconds", lat),
	}, c.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	c.logger.Info("use_case_done", fields...)
}
