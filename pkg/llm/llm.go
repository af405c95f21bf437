// Package llm abstracts the text-completion capability used by the plan
// generator and the synthesis engine. The executor never touches this
// package; all LLM use happens before or after deterministic execution.
package llm

import (
	"context"
	"fmt"

	"github.com/harborlabs/bunkerplan/pkg/registry"
)

// CompletionRequest is a single bounded completion call.
type CompletionRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// ForceJSON asks the provider for a JSON-only response when supported.
	ForceJSON bool `json:"force_json,omitempty"`
}

// CompletionResponse carries the completion text and token accounting.
type CompletionResponse struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Provider is a text-completion capability.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// Registry holds the configured LLM providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

func (r *Registry) RegisterProvider(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	return r.Register(p.Name(), p)
}

func (r *Registry) GetProvider(name string) (Provider, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("llm provider '%s' not found", name)
	}
	return p, nil
}
