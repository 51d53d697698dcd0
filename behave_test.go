package behave

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-behave/infrastructure/configsource"
	"github.com/ahrav/go-behave/infrastructure/llm"
	"github.com/ahrav/go-behave/internal/application"
	"github.com/ahrav/go-behave/internal/ports"
)

// fakeClient replies with a fixed answer and records every request.
type fakeClient struct {
	mu    sync.Mutex
	reply string
	err   error
	delay time.Duration
	calls [][]Message

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeClient) Invoke(ctx context.Context, messages []Message) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func (f *fakeClient) GetModel() string { return "fake-model" }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// untouchableClient fails the test if a request is ever made.
type untouchableClient struct{ t *testing.T }

func (c untouchableClient) Invoke(context.Context, []Message) (string, error) {
	c.t.Error("client must not be invoked")
	return "", errors.New("unexpected call")
}

func (untouchableClient) GetModel() string { return "untouchable" }

type sample struct {
	name    string
	elapsed time.Duration
	value   float64
	labels  map[string]string
}

type recordingCollector struct {
	mu       sync.Mutex
	latency  []sample
	counters []sample
}

var _ ports.MetricsCollector = (*recordingCollector)(nil)

func (r *recordingCollector) RecordLatency(op string, d time.Duration, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = append(r.latency, sample{name: op, elapsed: d, labels: labels})
}

func (r *recordingCollector) RecordCounter(metric string, v float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, sample{name: metric, value: v, labels: labels})
}

func (r *recordingCollector) RecordGauge(string, float64, map[string]string)     {}
func (r *recordingCollector) RecordHistogram(string, float64, map[string]string) {}

func (r *recordingCollector) outcomes(metric string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.counters {
		if s.name == metric {
			out = append(out, s.labels["outcome"])
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func newTestAsserter(t *testing.T, client LLMClient) *Asserter {
	t.Helper()
	a, err := New(Options{Client: client})
	require.NoError(t, err)
	return a
}

func TestAssertBehavioralMatch_Verdicts(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantErr    bool
		wantReason string
		wantFormat bool
	}{
		{name: "pass", reply: "PASS"},
		{name: "pass with trailing text", reply: "PASS - the greeting is polite"},
		{name: "fail with reason", reply: "FAIL: the reply is rude", wantErr: true, wantReason: "the reply is rude"},
		{name: "fail reason keeps later delimiters", reply: "FAIL: a: b FAIL: c", wantErr: true, wantReason: "a: b FAIL: c"},
		{name: "format error", reply: "MAYBE", wantErr: true, wantFormat: true},
		{name: "lowercase is not a verdict", reply: "pass", wantErr: true, wantFormat: true},
		{name: "leading whitespace is not a verdict", reply: " PASS", wantErr: true, wantFormat: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given an asserter whose model answers with tt.reply
			a := newTestAsserter(t, &fakeClient{reply: tt.reply})

			// When asserting
			err := a.AssertBehavioralMatch(context.Background(), "Hello!", "a polite greeting")

			// Then the reply decides the error kind
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			if tt.wantFormat {
				var formatErr *FormatError
				require.ErrorAs(t, err, &formatErr)
				assert.Equal(t, tt.reply, formatErr.Reply)
				assert.Equal(t, "Format Non-compliance Detected "+tt.reply, err.Error())
				return
			}

			var failed *BehavioralAssertionError
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, tt.wantReason, failed.Reason)
			assert.Contains(t, err.Error(), "Behavioral assertion failed: ")
		})
	}
}

func TestAssertBehavioralMatch_InvalidInputsMakeNoRequest(t *testing.T) {
	tests := []struct {
		name       string
		actual     any
		expected   any
		wantReason string
	}{
		{name: "nil actual", actual: nil, expected: "x", wantReason: "actual must be a string and cannot be nil"},
		{name: "nil expected", actual: "x", expected: nil, wantReason: "expected_behavior must be a string and cannot be nil"},
		{name: "int actual", actual: 42, expected: "x", wantReason: "actual must be a string, got int"},
		{name: "struct expected", actual: "x", expected: struct{}{}, wantReason: "expected_behavior must be a string, got struct {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAsserter(t, untouchableClient{t})

			err := a.AssertBehavioralMatch(context.Background(), tt.actual, tt.expected)

			var promptErr *InvalidPromptError
			require.ErrorAs(t, err, &promptErr)
			assert.Equal(t, tt.wantReason, promptErr.Reason)
			assert.ErrorIs(t, err, ErrTypeMismatch)
		})
	}
}

func TestAssertBehavioralMatch_SendsRenderedPrompts(t *testing.T) {
	// Given custom prompts
	client := &fakeClient{reply: "PASS"}
	a, err := New(Options{
		Client:       client,
		SystemPrompt: "judge strictly",
		HumanPrompt:  "want={expected_behavior} got={actual}",
	})
	require.NoError(t, err)

	// When asserting with placeholder text inside the inputs
	require.NoError(t, a.AssertBehavioralMatch(context.Background(), "{expected_behavior}", "greets"))

	// Then both messages are sent and inputs are substituted once
	require.Len(t, client.calls, 1)
	assert.Equal(t, []Message{
		{Role: ports.RoleSystem, Content: "judge strictly"},
		{Role: ports.RoleHuman, Content: "want=greets got={expected_behavior}"},
	}, client.calls[0])
}

func TestAssertBehavioralMatch_DefaultPrompts(t *testing.T) {
	client := &fakeClient{reply: "PASS"}
	a := newTestAsserter(t, client)

	require.NoError(t, a.AssertBehavioralMatch(context.Background(), "Bonjour", "a French greeting"))

	require.Len(t, client.calls, 1)
	msgs := client.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, application.DefaultSystemPrompt, msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "Expected Behavior:\na French greeting")
	assert.Contains(t, msgs[1].Content, "Actual Output:\nBonjour")
}

func TestNew_InvalidHumanPrompt(t *testing.T) {
	_, err := New(Options{Client: &fakeClient{}, HumanPrompt: "only {actual}"})

	var promptErr *InvalidPromptError
	require.ErrorAs(t, err, &promptErr)
	assert.Contains(t, err.Error(), "must contain {expected_behavior} and {actual} placeholders")
}

func TestAssertBehavioralMatch_ConnectionError(t *testing.T) {
	// Given a provider that rejects the key
	cause := llm.NewProviderError("openai", llm.ErrorTypeAuthentication, http.StatusUnauthorized, "invalid API key", nil)
	a := newTestAsserter(t, &fakeClient{err: cause})

	// When asserting
	err := a.AssertBehavioralMatch(context.Background(), "x", "y")

	// Then the failure is a connection error carrying the provider details
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, map[string]string{
		"provider":    "openai",
		"error_type":  "authentication",
		"status_code": "401",
	}, connErr.Details)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "LLM connection error: ")

	var failed *BehavioralAssertionError
	assert.False(t, errors.As(err, &failed))
}

func TestAssertBehavioralMatch_UnclassifiedConnectionError(t *testing.T) {
	a := newTestAsserter(t, &fakeClient{err: context.DeadlineExceeded})

	err := a.AssertBehavioralMatch(context.Background(), "x", "y")

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Nil(t, connErr.Details)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveConfig_Precedence(t *testing.T) {
	// Given an explicit model, a source supplying the model and temperature,
	// and nothing for max tokens
	src := configsource.Map{
		"OPENAI_API_KEY":  "sk-from-source",
		"LLM_MODEL":       "gpt-4",
		"LLM_TEMPERATURE": "0.5",
	}

	// When resolving
	got, err := ResolveConfig(Options{
		Settings:     Settings{Model: "gpt-4o-mini"},
		ConfigSource: src,
	})

	// Then each field comes from the highest layer that has it
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", got.LLM.Model)
	assert.Equal(t, 0.5, got.LLM.Temperature)
	assert.Equal(t, application.DefaultMaxTokens, got.LLM.MaxTokens)
	assert.Equal(t, "sk-from-source", got.LLM.APIKey)

	assert.Equal(t, application.OriginExplicit, got.Origins["model"])
	assert.Equal(t, application.OriginSource, got.Origins["temperature"])
	assert.Equal(t, application.OriginDefault, got.Origins["max_tokens"])
}

func TestNew_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		src      configsource.Map
		check    func(t *testing.T, err error)
	}{
		{
			name: "missing API key",
			src:  configsource.Map{},
			check: func(t *testing.T, err error) {
				var cfgErr *ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
			},
		},
		{
			name:     "unknown provider",
			settings: Settings{APIKey: "sk", Provider: "mistral"},
			src:      configsource.Map{},
			check: func(t *testing.T, err error) {
				var cfgErr *ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				assert.Contains(t, err.Error(), "Invalid provider")
			},
		},
		{
			name:     "rate limiter below one request per second",
			settings: Settings{APIKey: "sk", UseRateLimiter: true},
			src:      configsource.Map{"RATE_LIMITER_REQUESTS_PER_SECOND": "0.5"},
			check: func(t *testing.T, err error) {
				var rlErr *RateLimiterConfigurationError
				require.ErrorAs(t, err, &rlErr)
			},
		},
		{
			name:     "malformed retry switch",
			settings: Settings{APIKey: "sk"},
			src:      configsource.Map{"LANGCHAIN_WITH_RETRY": "yes"},
			check: func(t *testing.T, err error) {
				var retryErr *RetryConfigurationError
				require.ErrorAs(t, err, &retryErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(Options{Settings: tt.settings, ConfigSource: tt.src, Pool: llm.NewPool()})

			assert.Nil(t, a)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
			tt.check(t, err)
		})
	}
}

func TestNew_RateLimiterFromEnvironment(t *testing.T) {
	// Given rate-limiter values exported as strings
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("RATE_LIMITER_REQUESTS_PER_SECOND", "5")
	t.Setenv("RATE_LIMITER_CHECK_EVERY_N_SECONDS", "2")
	t.Setenv("RATE_LIMITER_MAX_BUCKET_SIZE", "10")

	// When building an asserter with rate limiting enabled
	a, err := New(Options{
		Settings:     Settings{UseRateLimiter: true},
		ConfigSource: configsource.Environ(),
		Pool:         llm.NewPool(),
	})
	require.NoError(t, err)

	// Then the values are parsed and applied to the token bucket
	cfg, ok := a.Config()
	require.True(t, ok)
	require.NotNil(t, cfg.RateLimiter)
	assert.Equal(t, 5.0, cfg.RateLimiter.RequestsPerSecond)
	assert.Equal(t, 2.0, cfg.RateLimiter.CheckEveryNSeconds)
	assert.Equal(t, 10, cfg.RateLimiter.MaxBucketSize)

	limiter := a.RateLimiter()
	require.NotNil(t, limiter)
	assert.Equal(t, rate.Limit(5), limiter.Limit())
	assert.Equal(t, 10, limiter.Burst())
}

func TestNew_RateLimiterDisabled(t *testing.T) {
	a, err := New(Options{
		Settings:     Settings{APIKey: "sk-test"},
		ConfigSource: configsource.Map{},
		Pool:         llm.NewPool(),
	})
	require.NoError(t, err)

	assert.Nil(t, a.RateLimiter())
	cfg, ok := a.Config()
	require.True(t, ok)
	assert.Nil(t, cfg.RateLimiter)
	assert.Nil(t, cfg.Retry)
}

func TestNew_PoolSharesClientsAndLimiters(t *testing.T) {
	pool := llm.NewPool()
	opts := func(model string) Options {
		return Options{
			Settings: Settings{
				APIKey:            "sk-test",
				Model:             model,
				UseRateLimiter:    true,
				RequestsPerSecond: ptr(FloatInput(3)),
			},
			ConfigSource: configsource.Map{},
			Pool:         pool,
		}
	}

	// Given two asserters with identical settings and one with another model
	first, err := New(opts("gpt-4o"))
	require.NoError(t, err)
	second, err := New(opts("gpt-4o"))
	require.NoError(t, err)
	other, err := New(opts("gpt-4o-mini"))
	require.NoError(t, err)

	// Then identical settings share one client and every asserter with the
	// same limiter settings shares one bucket
	assert.Same(t, first.Client(), second.Client())
	assert.NotSame(t, first.Client(), other.Client())
	assert.Same(t, first.RateLimiter(), second.RateLimiter())
	assert.Same(t, first.RateLimiter(), other.RateLimiter())
	assert.Equal(t, 2, pool.Len())
}

func TestNew_InjectedClientSkipsResolution(t *testing.T) {
	// Given a source that would fail resolution
	src := configsource.Map{"LLM_TEMPERATURE": "hot"}
	client := &fakeClient{reply: "PASS"}

	a, err := New(Options{Client: client, ConfigSource: src})

	require.NoError(t, err)
	assert.Same(t, client, a.Client())
	_, ok := a.Config()
	assert.False(t, ok)
	assert.Nil(t, a.RateLimiter())
}

func TestAssertBehavioralMatch_OpenAIEndToEnd(t *testing.T) {
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var status atomic.Int32
	status.Store(http.StatusOK)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
			})
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "FAIL: not polite"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
		})
	}))
	t.Cleanup(server.Close)

	// Given an asserter pointed at a local OpenAI-compatible server
	a, err := New(Options{
		Settings: Settings{
			APIKey:     "sk-test",
			Provider:   "OpenAI",
			Model:      "gpt-4o-mini",
			BaseURL:    server.URL + "/v1/",
			MaxRetries: ptr(0),
		},
		ConfigSource: configsource.Map{},
		Pool:         llm.NewPool(),
	})
	require.NoError(t, err)

	// When the model answers FAIL
	err = a.AssertBehavioralMatch(context.Background(), "Go away.", "a polite greeting")

	// Then the reason is surfaced and the rendered prompt reached the server
	var failed *BehavioralAssertionError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "not polite", failed.Reason)
	assert.Equal(t, "gpt-4o-mini", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Contains(t, gotBody.Messages[1].Content, "Go away.")

	// When the server rejects the key
	status.Store(http.StatusUnauthorized)
	err = a.AssertBehavioralMatch(context.Background(), "Hi", "a greeting")

	// Then a connection error reports the status
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "401", connErr.Details["status_code"])
	assert.Equal(t, "openai", connErr.Details["provider"])
}

func TestAssertBehavioralMatch_MetricsAndSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	client := &fakeClient{reply: "PASS"}
	metrics := &recordingCollector{}
	a, err := New(Options{Client: client, Metrics: metrics, Tracer: tp.Tracer("test")})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.AssertBehavioralMatch(ctx, "x", "y"))
	client.reply = "FAIL: nope"
	require.Error(t, a.AssertBehavioralMatch(ctx, "x", "y"))
	client.reply = "MAYBE"
	require.Error(t, a.AssertBehavioralMatch(ctx, "x", "y"))
	require.Error(t, a.AssertBehavioralMatch(ctx, nil, "y"))
	client.err = errors.New("connection refused")
	require.Error(t, a.AssertBehavioralMatch(ctx, "x", "y"))

	want := []string{"pass", "fail", "format_error", "invalid_input", "connection_error"}
	assert.Equal(t, want, metrics.outcomes(ports.MetricAssertionsTotal))
	assert.Len(t, metrics.latency, len(want))

	spans := recorder.Ended()
	require.Len(t, spans, len(want))
	for i, span := range spans {
		assert.Equal(t, "behave.assert", span.Name())
		attrs := make(map[attribute.Key]attribute.Value)
		for _, kv := range span.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		assert.Equal(t, want[i], attrs["behave.outcome"].AsString())
		assert.Equal(t, "fake-model", attrs["llm.model"].AsString())
		assert.NotEmpty(t, attrs["behave.call_id"].AsString())
	}
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Ok, spans[1].Status().Code, "a FAIL verdict is not a span error")
	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Equal(t, codes.Error, spans[4].Status().Code)
}

func TestAssertAll(t *testing.T) {
	// Given a slow client and a concurrency bound of two
	client := &fakeClient{reply: "PASS", delay: 20 * time.Millisecond}
	a, err := New(Options{Client: client, MaxConcurrency: 2})
	require.NoError(t, err)

	cases := []Case{
		{Name: "one", Actual: "a", ExpectedBehavior: "b"},
		{Name: "two", Actual: nil, ExpectedBehavior: "b"},
		{Name: "three", Actual: "a", ExpectedBehavior: "b"},
		{Name: "four", Actual: "a", ExpectedBehavior: "b"},
		{Name: "five", Actual: "a", ExpectedBehavior: "b"},
	}

	// When running the batch
	results := a.AssertAll(context.Background(), cases)

	// Then results keep the input order and the bound holds
	require.Len(t, results, len(cases))
	for i, r := range results {
		assert.Equal(t, cases[i].Name, r.Case.Name)
	}
	assert.True(t, results[0].Passed())
	var promptErr *InvalidPromptError
	assert.ErrorAs(t, results[1].Err, &promptErr)
	assert.Equal(t, 4, client.callCount())
	assert.LessOrEqual(t, client.maxInFlight.Load(), int32(2))
}

func TestAssertAll_CanceledContext(t *testing.T) {
	a := newTestAsserter(t, untouchableClient{t})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := a.AssertAll(ctx, []Case{{Name: "a", Actual: "x", ExpectedBehavior: "y"}})

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestAssertAll_Empty(t *testing.T) {
	a := newTestAsserter(t, untouchableClient{t})

	assert.Empty(t, a.AssertAll(context.Background(), nil))
}
