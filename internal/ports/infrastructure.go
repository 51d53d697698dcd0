// Package ports declares the boundaries between the assertion core and the
// outside world: the chat client that judges behavior, the key/value source
// consulted during configuration resolution and the metrics sink.
package ports

import (
	"context"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem marks instructions that frame the conversation.
	RoleSystem Role = "system"
	// RoleHuman marks the message carrying the actual request.
	RoleHuman Role = "human"
)

// Message is a single chat turn sent to a model.
type Message struct {
	Role    Role
	Content string
}

// LLMClient defines the interface for interacting with Large Language
// Model providers.
// Implementations should handle provider-specific details like authentication,
// request formatting, and response parsing.
type LLMClient interface {
	// Invoke sends the ordered messages to the model and returns the text
	// of its reply. Rate limiting, retries and timeouts are the
	// implementation's concern.
	Invoke(ctx context.Context, messages []Message) (string, error)

	// GetModel returns the model identifier being used by this client.
	// This is useful for logging and debugging purposes.
	GetModel() string
}

// ConfigSource is a read-only string-keyed lookup consulted between explicit
// options and built-in defaults. The process environment is the usual
// implementation; tests supply maps.
type ConfigSource interface {
	// Lookup returns the value stored under key and whether it was present.
	// A present but empty value is reported as present.
	Lookup(key string) (string, bool)
}

// ConfigSourceFunc adapts an ordinary function to the ConfigSource interface.
type ConfigSourceFunc func(key string) (string, bool)

// Lookup calls f(key).
func (f ConfigSourceFunc) Lookup(key string) (string, bool) { return f(key) }

// Metric names recorded for every assertion.
const (
	MetricAssertionLatency = "behave_assertion"
	MetricAssertionsTotal  = "behave_assertions_total"
)

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like assertion outcomes and errors.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like token usage.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
