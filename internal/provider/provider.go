// Package provider abstracts the reasoning backend used by generative
// planning. The engine only needs single-shot text completion; the
// langchaingo llms.Model interface supplies it for OpenAI-compatible and
// ollama backends.
package provider

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider produces a text completion for a prompt. Implementations must
// honor ctx cancellation.
type Provider interface {
	// Name identifies the backend for logs and plan metadata.
	Name() string

	// Generate returns the model's completion for the prompt. system may be
	// empty.
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Options configures a backend.
type Options struct {
	// Backend selects the provider: "openai" or "ollama".
	Backend string
	// Model is the model identifier passed to the backend.
	Model string
	// BaseURL overrides the backend endpoint. Required for ollama when the
	// server is not on localhost; optional for openai-compatible gateways.
	BaseURL string
	// APIKey authenticates against the backend, where required.
	APIKey string
}

// New constructs a Provider for the configured backend.
func New(opts Options) (Provider, error) {
	var model llms.Model
	var err error

	switch opts.Backend {
	case "openai":
		oo := []openai.Option{
			openai.WithModel(opts.Model),
		}
		if opts.APIKey != "" {
			oo = append(oo, openai.WithToken(opts.APIKey))
		}
		if opts.BaseURL != "" {
			oo = append(oo, openai.WithBaseURL(opts.BaseURL))
		}
		model, err = openai.New(oo...)
	case "ollama":
		ol := []ollama.Option{
			ollama.WithModel(opts.Model),
		}
		if opts.BaseURL != "" {
			ol = append(ol, ollama.WithServerURL(opts.BaseURL))
		}
		model, err = ollama.New(ol...)
	default:
		return nil, fmt.Errorf("unknown provider backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s provider: %w", opts.Backend, err)
	}

	return &langchainProvider{name: opts.Backend, model: model}, nil
}

// FromModel wraps an existing llms.Model. Used in tests with fake models.
func FromModel(name string, model llms.Model) Provider {
	return &langchainProvider{name: name, model: model}
}

type langchainProvider struct {
	name  string
	model llms.Model
}

func (p *langchainProvider) Name() string { return p.name }

func (p *langchainProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt)},
	})

	resp, err := p.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s completion: empty response", p.name)
	}
	return resp.Choices[0].Content, nil
}
