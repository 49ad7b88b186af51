package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentLLMRequest creates a span for LLM requests
func InstrumentLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return StartSpan(ctx, "llm.request",
		trace.WithAttributes(
			LLMAttrs(provider, model)...,
		),
	)
}

// InstrumentSTTRequest creates a span for STT (Speech-to-Text) requests
func InstrumentSTTRequest(ctx context.Context, provider string, audioSize int) (context.Context, trace.Span) {
	return StartSpan(ctx, "stt.request",
		trace.WithAttributes(
			attribute.String(AttrSTTProvider, provider),
			attribute.Int("audio.size", audioSize),
		),
	)
}
