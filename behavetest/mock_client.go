package behavetest

import (
	"context"
	"strings"
	"sync"

	behave "github.com/ahrav/go-behave"
)

// MockResponse is a canned reply for requests whose human prompt contains
// Pattern. The prompt embeds both the actual output and the expected
// behavior. Matching is case-insensitive.
type MockResponse struct {
	Pattern string
	Reply   string
	Err     error
}

// MockClient is a behave.LLMClient with deterministic replies, for tests that
// must not reach a provider. Responses are matched in the order they were
// added; the default reply is PASS.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []MockResponse
	fallback  string
	calls     [][]behave.Message
}

var _ behave.LLMClient = (*MockClient)(nil)

// NewMockClient returns a client that answers PASS to everything.
func NewMockClient() *MockClient {
	return &MockClient{model: "mock-judge", fallback: "PASS"}
}

// Pass registers a PASS reply for prompts containing pattern.
func (m *MockClient) Pass(pattern string) *MockClient {
	return m.AddResponse(MockResponse{Pattern: pattern, Reply: "PASS"})
}

// Fail registers a FAIL reply with reason for prompts containing pattern.
func (m *MockClient) Fail(pattern, reason string) *MockClient {
	return m.AddResponse(MockResponse{Pattern: pattern, Reply: "FAIL: " + reason})
}

// AddResponse registers r and returns m for chaining.
func (m *MockClient) AddResponse(r MockResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Pattern = strings.ToLower(r.Pattern)
	m.responses = append(m.responses, r)
	return m
}

// SetDefault replaces the reply used when no pattern matches.
func (m *MockClient) SetDefault(reply string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = reply
	return m
}

// Invoke matches the registered patterns against the last message, which
// carries the rendered human prompt.
func (m *MockClient) Invoke(ctx context.Context, messages []behave.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)

	var prompt string
	if n := len(messages); n > 0 {
		prompt = strings.ToLower(messages[n-1].Content)
	}
	for _, r := range m.responses {
		if strings.Contains(prompt, r.Pattern) {
			return r.Reply, r.Err
		}
	}
	return m.fallback, nil
}

// GetModel returns the mock model identifier.
func (m *MockClient) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// SetModel updates the mock model identifier.
func (m *MockClient) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

// Calls returns the message lists received so far.
func (m *MockClient) Calls() [][]behave.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]behave.Message(nil), m.calls...)
}

// Reset forgets every call and registered response.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
	m.calls = nil
	m.fallback = "PASS"
}
