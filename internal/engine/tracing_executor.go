package engine

import (
	"context"

	"github.com/vvakame/stitchway/internal/delegate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vvakame/stitchway"

var (
	_ delegate.Executor   = (*TracingExecutor)(nil)
	_ delegate.Subscriber = (*TracingExecutor)(nil)
)

// TracingExecutor records a span for every call to a subschema.
type TracingExecutor struct {
	Subschema string
	Next      delegate.Executor
	// Tracer defaults to the tracer of the global provider.
	Tracer trace.Tracer
}

func NewTracingExecutor(subschema string, next delegate.Executor) *TracingExecutor {
	return &TracingExecutor{
		Subschema: subschema,
		Next:      next,
	}
}

func (te *TracingExecutor) tracer() trace.Tracer {
	if te.Tracer != nil {
		return te.Tracer
	}
	return otel.Tracer(tracerName)
}

func (te *TracingExecutor) Execute(ctx context.Context, req *delegate.Request) (*delegate.Result, error) {
	ctx, span := te.tracer().Start(ctx, "graphql.delegate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("graphql.subschema", te.Subschema),
		attribute.String("graphql.operation.name", req.OperationName),
		attribute.String("graphql.operation.type", string(req.OperationType)),
	)

	result, err := te.Next.Execute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if result != nil {
		span.SetAttributes(attribute.Int("graphql.error_count", len(result.Errors)))
		if len(result.Errors) != 0 {
			span.SetStatus(codes.Error, result.Errors[0].Message)
		}
	}

	return result, nil
}

// Subscribe records a span covering the start of the subscription.
func (te *TracingExecutor) Subscribe(ctx context.Context, req *delegate.Request) (<-chan *delegate.Result, error) {
	subscriber, ok := te.Next.(delegate.Subscriber)
	if !ok {
		return nil, errSubscriptionUnsupported
	}

	ctx, span := te.tracer().Start(ctx, "graphql.subscribe", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("graphql.subschema", te.Subschema),
		attribute.String("graphql.operation.name", req.OperationName),
	)

	ch, err := subscriber.Subscribe(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return ch, nil
}
