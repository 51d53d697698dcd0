package llm

import "sync"

// Request option keys understood by every provider.
const (
	OptSystem      = "system"
	OptTemperature = "temperature"
	OptMaxTokens   = "max_tokens"
	OptModel       = "model"
)

// DefaultMaxTokens is used when neither the client nor the call sets a limit.
const DefaultMaxTokens = 4096

// BaseProvider holds the model name behind a lock so SetModel is safe while
// requests are in flight.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the configured model name.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions is the normalized parameter set for one request.
type RequestOptions struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
}

// ParseRequestOptions overlays per-call options on the client defaults.
// Values of the wrong type or out of range are ignored.
func ParseRequestOptions(opts map[string]any, defaults RequestOptions) RequestOptions {
	out := defaults
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	out.Model = optionValue(opts, OptModel, out.Model, func(s string) bool { return s != "" })
	out.System = optionValue(opts, OptSystem, out.System, nil)
	out.MaxTokens = optionValue(opts, OptMaxTokens, out.MaxTokens, func(n int) bool { return n > 0 })

	if t, ok := opts[OptTemperature].(float64); ok && t >= 0 && t <= 1 {
		out.Temperature = &t
	}
	return out
}

// optionValue returns opts[key] when it has type T and passes valid.
func optionValue[T any](opts map[string]any, key string, def T, valid func(T) bool) T {
	raw, ok := opts[key]
	if !ok {
		return def
	}
	v, ok := raw.(T)
	if !ok || (valid != nil && !valid(v)) {
		return def
	}
	return v
}

func (c ClientConfig) requestDefaults() RequestOptions {
	return RequestOptions{
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
}
