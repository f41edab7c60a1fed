// Tracing instrumentation for the engine.

package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rahul/autopilot/internal/agent"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startRunSpan starts the span covering one goal session.
func (e *Engine) startRunSpan(ctx context.Context, s *Session) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "goal.run")
	span.SetAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("goal.text", truncate(s.Goal, 200)),
	)
	if s.GoalID != "" {
		span.SetAttributes(attribute.String("goal.id", s.GoalID))
	}
	return ctx, span
}

// endRunSpan ends the session span with its outcome.
func endRunSpan(span trace.Span, s *Session, err error) {
	span.SetAttributes(
		attribute.String("session.status", string(s.Status)),
		attribute.Int("session.iterations", s.Iteration),
		attribute.Int("session.replans", s.Replans),
	)
	if s.Score != nil {
		span.SetAttributes(attribute.Float64("session.score", *s.Score))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// startPhaseSpan starts a span for plan, evaluate or summary.
func (e *Engine) startPhaseSpan(ctx context.Context, phase string, s *Session) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "phase."+phase)
	span.SetAttributes(
		attribute.String("phase.name", phase),
		attribute.String("session.id", s.ID),
	)
	return ctx, span
}

// startStepSpan starts a span for one step attempt.
func (e *Engine) startStepSpan(ctx context.Context, s *Session, step *PlanStep) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "step.execute")
	span.SetAttributes(
		attribute.String("session.id", s.ID),
		attribute.Int("step.index", step.Index),
		attribute.String("step.capability", step.Capability),
		attribute.Int("step.retries", step.Retries),
	)
	return ctx, span
}

func endPhaseSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
