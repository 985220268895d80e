package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for dotclaw spans.
var (
	AttrAgentID      = attribute.Key("dotclaw.agent.id")
	AttrTaskID       = attribute.Key("dotclaw.task.id")
	AttrToolName     = attribute.Key("dotclaw.tool.name")
	AttrModel        = attribute.Key("dotclaw.llm.model")
	AttrTokensInput  = attribute.Key("dotclaw.llm.tokens.input")
	AttrTokensOutput = attribute.Key("dotclaw.llm.tokens.output")
	AttrLoopID       = attribute.Key("dotclaw.loop.id")
	AttrLoopStep     = attribute.Key("dotclaw.loop.step")
	AttrMCPServer    = attribute.Key("dotclaw.mcp.server")
	AttrSessionID    = attribute.Key("dotclaw.session.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (Gateway).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (LLM API, MCP).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
