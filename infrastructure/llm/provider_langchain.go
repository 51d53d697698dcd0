package llm

import (
	"context"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// ProviderLangChain labels clients built around a langchaingo model.
const ProviderLangChain = "langchain"

// langChainCore adapts any langchaingo llms.Model to CoreLLM, so injected
// models get the same middleware as the built-in providers.
type langChainCore struct {
	BaseProvider
	model           llms.Model
	defaults        RequestOptions
	errorClassifier *ErrorClassifier
}

// NewLangChainCore wraps model. modelName is reported by GetModel and sent
// with each call; temperature and maxTokens are per-call defaults and may be
// left unset.
func NewLangChainCore(model llms.Model, modelName string, temperature *float64, maxTokens int) CoreLLM {
	return &langChainCore{
		BaseProvider:    BaseProvider{model: modelName},
		model:           model,
		defaults:        RequestOptions{Model: modelName, Temperature: temperature, MaxTokens: maxTokens},
		errorClassifier: &ErrorClassifier{Provider: ProviderLangChain},
	}
}

// NewLangChainClient wraps model in a Client with the given middleware.
// langchaingo models carry no client-side timeout, so each attempt is bounded
// by timeout through the innermost TimeoutMiddleware; zero leaves calls
// bounded only by the caller's context.
func NewLangChainClient(model llms.Model, modelName string, timeout time.Duration, mws ...Middleware) *Client {
	mws = append(mws[:len(mws):len(mws)], TimeoutMiddleware(timeout))
	return NewClientWithCore(ProviderLangChain, NewLangChainCore(model, modelName, nil, 0), mws...)
}

// DoRequest converts the prompt into langchaingo messages and returns the
// first choice.
func (l *langChainCore) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	defaults := l.defaults
	defaults.Model = l.GetModel()
	options := ParseRequestOptions(opts, defaults)

	messages := make([]llms.MessageContent, 0, 2)
	if options.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, options.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	callOpts := []llms.CallOption{llms.WithMaxTokens(options.MaxTokens)}
	if options.Model != "" {
		callOpts = append(callOpts, llms.WithModel(options.Model))
	}
	if options.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*options.Temperature))
	}

	resp, err := l.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", 0, 0, l.errorClassifier.ClassifyTransportError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", 0, 0, NewProviderError(ProviderLangChain, ErrorTypeServerError, 0, "", ErrNoResponseChoice)
	}

	choice := resp.Choices[0]
	return choice.Content, usageCount(choice.GenerationInfo, "PromptTokens", "input_tokens"),
		usageCount(choice.GenerationInfo, "CompletionTokens", "output_tokens"), nil
}

// usageCount reads a token count from generation info. Backends disagree on
// the key, so the first present key wins.
func usageCount(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
