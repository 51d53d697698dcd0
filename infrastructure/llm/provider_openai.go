package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Backoff bounds for the transport-level retries performed on behalf of the
// OpenAI SDK, which has no retry support of its own.
const (
	openAIRetryBaseDelay = 500 * time.Millisecond
	openAIRetryMaxDelay  = 8 * time.Second
)

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider implements CoreLLM for the OpenAI chat completions API.
type openAIProvider struct {
	BaseProvider
	client          *openai.Client
	defaults        RequestOptions
	errorClassifier *ErrorClassifier
}

// newOpenAIProvider builds the provider. A positive MaxRetries wraps it in a
// retry layer that only retries transient provider errors.
func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	p := &openAIProvider{
		BaseProvider:    BaseProvider{model: config.Model},
		client:          openai.NewClientWithConfig(clientConfig),
		defaults:        config.requestDefaults(),
		errorClassifier: &ErrorClassifier{Provider: "openai"},
	}

	if config.MaxRetries > 0 {
		return RetryMiddleware(RetryPolicy{
			MaxAttempts: config.MaxRetries + 1,
			Jitter:      true,
			BaseDelay:   openAIRetryBaseDelay,
			MaxDelay:    openAIRetryMaxDelay,
			ShouldRetry: IsTransient,
		})(p), nil
	}
	return p, nil
}

// DoRequest sends one chat completion request and returns the first choice.
func (p *openAIProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	defaults := p.defaults
	defaults.Model = p.GetModel()
	options := ParseRequestOptions(opts, defaults)

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(prompt, options))
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, NewProviderError("openai", ErrorTypeServerError, 0, "", ErrNoResponseChoice)
	}

	return resp.Choices[0].Message.Content, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil
}

func (p *openAIProvider) buildRequest(prompt string, options RequestOptions) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if options.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    options.Model,
		Messages: messages,
	}
	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}

	// Reasoning models reject max_tokens in favor of max_completion_tokens.
	if isReasoningModel(options.Model) {
		req.MaxCompletionTokens = options.MaxTokens
	} else {
		req.MaxTokens = options.MaxTokens
	}
	return req
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// handleError classifies OpenAI SDK errors into ProviderError values.
func (p *openAIProvider) handleError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, reqErr.HTTPStatus, err)
	}

	return p.errorClassifier.ClassifyTransportError(err)
}
