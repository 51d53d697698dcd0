package llm

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-behave/internal/ports"
)

// Metric names emitted by MetricsMiddleware.
const (
	MetricRequestLatency = "llm_request"
	MetricRequestsTotal  = "llm_requests_total"
	MetricTokensTotal    = "llm_tokens_total"
)

// metricsLLM records latency, outcome and token usage for every request.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
	provider  string
}

// MetricsMiddleware creates middleware that reports each request to
// collector, labeled with provider and model. A nil collector disables it.
func MetricsMiddleware(collector ports.MetricsCollector, provider string) Middleware {
	return func(next CoreLLM) CoreLLM {
		if collector == nil {
			return next
		}
		return &metricsLLM{next: next, collector: collector, provider: provider}
	}
}

// DoRequest executes the request and records its metrics.
func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, opts)

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"status":   requestStatus(err),
	}
	m.collector.RecordLatency(MetricRequestLatency, time.Since(start), labels)
	m.collector.RecordCounter(MetricRequestsTotal, 1, labels)

	if err == nil {
		m.collector.RecordCounter(MetricTokensTotal, float64(tokensIn), m.tokenLabels(labels["model"], "input"))
		m.collector.RecordCounter(MetricTokensTotal, float64(tokensOut), m.tokenLabels(labels["model"], "output"))
	}

	return response, tokensIn, tokensOut, err
}

func (m *metricsLLM) tokenLabels(model, tokenType string) map[string]string {
	return map[string]string{"provider": m.provider, "model": model, "token_type": tokenType}
}

func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Type != ErrorTypeUnknown {
		return pe.Type.String()
	}
	return "error"
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
