package fetch

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and attribute names recorded by TracingFetcher.
const (
	SpanFetch = "fetch.page"

	AttrSource  = "fetch.source"
	AttrCursor  = "fetch.cursor"
	AttrLimit   = "fetch.limit"
	AttrItems   = "fetch.items"
	AttrHasMore = "fetch.has_more"
)

const instrumentationName = "github.com/zhangzqs/pagedlist-go/fetch"

// TracingFetcher wraps every fetch in an OpenTelemetry span.
type TracingFetcher[C comparable, T any] struct {
	source Fetcher[C, T]
	name   string
	tracer trace.Tracer
}

// TracingOption configures a TracingFetcher.
type TracingOption func(*tracingOptions)

type tracingOptions struct {
	provider trace.TracerProvider
}

// WithTracerProvider uses provider instead of the global provider.
func WithTracerProvider(provider trace.TracerProvider) TracingOption {
	return func(o *tracingOptions) { o.provider = provider }
}

// NewTracingFetcher records a span per fetch, tagged with name as the
// source.
func NewTracingFetcher[C comparable, T any](source Fetcher[C, T], name string, opts ...TracingOption) *TracingFetcher[C, T] {
	o := tracingOptions{provider: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	return &TracingFetcher[C, T]{
		source: source,
		name:   name,
		tracer: o.provider.Tracer(instrumentationName),
	}
}

// Fetch implements Fetcher.
func (t *TracingFetcher[C, T]) Fetch(ctx context.Context, cursor C, limit int) (Page[C, T], error) {
	ctx, span := t.tracer.Start(ctx, SpanFetch, trace.WithAttributes(
		attribute.String(AttrSource, t.name),
		attribute.String(AttrCursor, fmt.Sprint(cursor)),
		attribute.Int(AttrLimit, limit),
	))
	defer span.End()

	page, err := t.source.Fetch(ctx, cursor, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return page, err
	}
	span.SetAttributes(
		attribute.Int(AttrItems, len(page.Items)),
		attribute.Bool(AttrHasMore, page.HasMore),
	)
	span.SetStatus(codes.Ok, "")
	return page, nil
}
