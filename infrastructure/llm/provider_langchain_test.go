package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/ahrav/go-behave/internal/ports"
)

// mockLLMModel mocks the langchaingo llms.Model interface.
type mockLLMModel struct {
	mock.Mock
}

func (m *mockLLMModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	args := m.Called(ctx, messages, options)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llms.ContentResponse), args.Error(1)
}

func (m *mockLLMModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	args := m.Called(ctx, prompt, options)
	return args.String(0), args.Error(1)
}

func applyCallOptions(opts []llms.CallOption) llms.CallOptions {
	var o llms.CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func TestLangChainCore_DoRequest(t *testing.T) {
	// Given a model that answers with usage info
	model := new(mockLLMModel)
	resp := &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "PASS",
		GenerationInfo: map[string]any{"PromptTokens": 42, "CompletionTokens": 1},
	}}}
	model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).Return(resp, nil)

	temp := 0.3
	core := NewLangChainCore(model, "llama3", &temp, 256)

	// When sending a prompt with a system message
	reply, in, out, err := core.DoRequest(context.Background(), "Is it a match?", map[string]any{OptSystem: "Judge strictly."})

	// Then the model sees both messages and the defaults
	require.NoError(t, err)
	assert.Equal(t, "PASS", reply)
	assert.Equal(t, 42, in)
	assert.Equal(t, 1, out)

	model.AssertNumberOfCalls(t, "GenerateContent", 1)
	args := model.Calls[0].Arguments
	messages := args.Get(1).([]llms.MessageContent)
	require.Len(t, messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, messages[0].Role)
	assert.Equal(t, llms.TextContent{Text: "Judge strictly."}, messages[0].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, messages[1].Role)
	assert.Equal(t, llms.TextContent{Text: "Is it a match?"}, messages[1].Parts[0])

	opts := applyCallOptions(args.Get(2).([]llms.CallOption))
	assert.Equal(t, "llama3", opts.Model)
	assert.Equal(t, 256, opts.MaxTokens)
	assert.InDelta(t, 0.3, opts.Temperature, 1e-9)
}

func TestLangChainCore_PerCallOverrides(t *testing.T) {
	model := new(mockLLMModel)
	model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "FAIL"}}}, nil)
	core := NewLangChainCore(model, "llama3", nil, 0)

	_, in, out, err := core.DoRequest(context.Background(), "p", map[string]any{OptMaxTokens: 10, OptTemperature: 0.9})

	require.NoError(t, err)
	assert.Zero(t, in, "missing usage counts as zero")
	assert.Zero(t, out)
	messages := model.Calls[0].Arguments.Get(1).([]llms.MessageContent)
	assert.Len(t, messages, 1, "no system message without a system option")
	opts := applyCallOptions(model.Calls[0].Arguments.Get(2).([]llms.CallOption))
	assert.Equal(t, 10, opts.MaxTokens)
	assert.InDelta(t, 0.9, opts.Temperature, 1e-9)
}

func TestLangChainCore_Errors(t *testing.T) {
	tests := []struct {
		name     string
		resp     *llms.ContentResponse
		err      error
		wantType ErrorType
		errIs    error
	}{
		{name: "transport failure", err: errors.New("connection refused"), wantType: ErrorTypeUnknown},
		{name: "deadline", err: context.DeadlineExceeded, wantType: ErrorTypeTimeout, errIs: context.DeadlineExceeded},
		{name: "nil response", wantType: ErrorTypeServerError, errIs: ErrNoResponseChoice},
		{name: "no choices", resp: &llms.ContentResponse{}, wantType: ErrorTypeServerError, errIs: ErrNoResponseChoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := new(mockLLMModel)
			if tt.resp != nil {
				model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).Return(tt.resp, tt.err)
			} else {
				model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)
			}
			core := NewLangChainCore(model, "m", nil, 0)

			_, _, _, err := core.DoRequest(context.Background(), "p", nil)

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, ProviderLangChain, pe.Provider)
			assert.Equal(t, tt.wantType, pe.Type)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
}

func TestNewLangChainClient(t *testing.T) {
	model := new(mockLLMModel)
	model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "PASS"}}}, nil)

	client := NewLangChainClient(model, "llama3", 0)
	client.core.SetModel("llama3.1")

	reply, err := client.Invoke(context.Background(), []ports.Message{
		{Role: ports.RoleSystem, Content: "s"},
		{Role: ports.RoleHuman, Content: "h"},
	})

	require.NoError(t, err)
	assert.Equal(t, "PASS", reply)
	assert.Equal(t, ProviderLangChain, client.Provider())
	assert.Equal(t, "llama3.1", client.GetModel())
	opts := applyCallOptions(model.Calls[0].Arguments.Get(2).([]llms.CallOption))
	assert.Equal(t, "llama3.1", opts.Model, "model changes apply to later calls")
	model.AssertExpectations(t)
}

func TestUsageCount(t *testing.T) {
	assert.Equal(t, 5, usageCount(map[string]any{"input_tokens": 5}, "PromptTokens", "input_tokens"))
	assert.Equal(t, 7, usageCount(map[string]any{"PromptTokens": int64(7)}, "PromptTokens"))
	assert.Equal(t, 3, usageCount(map[string]any{"PromptTokens": 3.0}, "PromptTokens"))
	assert.Zero(t, usageCount(map[string]any{"PromptTokens": "3"}, "PromptTokens"))
	assert.Zero(t, usageCount(nil, "PromptTokens"))
}
