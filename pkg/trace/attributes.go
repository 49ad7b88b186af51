package trace

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys used throughout the application
const (
	AttrSessionID = "session.id"

	// Connection attributes
	AttrConnectionID    = "connection.id"
	AttrConnectionType  = "connection.type"
	AttrConnectionState = "connection.state"

	// AI/LLM attributes
	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"

	// STT attributes
	AttrSTTProvider = "stt.provider"
)

// SessionAttrs creates attributes for session information
func SessionAttrs(sessionID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
	}
}

// WithSessionAttrs is a span start option tagging the span with the
// owning session id.
func WithSessionAttrs(sessionID string) trace.SpanStartOption {
	return trace.WithAttributes(SessionAttrs(sessionID)...)
}

// ConnectionAttrs creates attributes for connection information
func ConnectionAttrs(connID, connType, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrConnectionID, connID),
		attribute.String(AttrConnectionType, connType),
		attribute.String(AttrConnectionState, state),
	}
}

// LLMAttrs creates attributes for LLM operations
func LLMAttrs(provider, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
	}
}
