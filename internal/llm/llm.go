package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const defaultMaxTokens = 1024

// ErrMissingAPIKey is returned when no key is configured for the provider
// named by a model string.
var ErrMissingAPIKey = errors.New("llm: missing API key")

type Message struct {
	Role    string
	Content string
}

func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL     string
	maxTokens   int
	temperature *float32
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the completion length. Classification prompts only need
// a word or two back.
func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func WithTemperature(t float32) Option {
	return func(o *clientOptions) {
		o.temperature = &t
	}
}

// Keys holds one API key per provider.
type Keys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

func (k Keys) forProvider(provider string) (string, error) {
	switch provider {
	case "openai":
		return k.OpenAI, nil
	case "anthropic":
		return k.Anthropic, nil
	case "gemini":
		return k.Gemini, nil
	}
	return "", fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

// FromModel builds a client for a "provider/model" string, picking the
// matching key from keys.
func FromModel(model string, keys Keys, opts ...Option) (Client, error) {
	provider, modelName, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	apiKey, err := keys.forProvider(provider)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, provider)
	}
	return NewClient(provider, apiKey, modelName, opts...)
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

func hasUserMessage(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}
