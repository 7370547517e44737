// Package generation talks to text-generation backends. Backends turn a
// composed prompt into answer text; they never see tool calls or history
// bookkeeping.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrUpstreamUnavailable means the backend is up but cannot serve yet
// (model loading, overloaded, rate limited). Callers retry these.
var ErrUpstreamUnavailable = errors.New("generation backend unavailable")

// ErrTransport marks connection-level failures reaching the backend.
var ErrTransport = errors.New("generation transport failure")

// KnowledgeBaseOnly is the sentinel answer a backend returns when the caller
// should answer straight from retrieved knowledge.
const KnowledgeBaseOnly = "KNOWLEDGE_BASE_ONLY"

const (
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderOffline = "offline"
)

type Request struct {
	Prompt string
	Model  string
}

// Generator produces answer text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Options selects and configures a backend.
type Options struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// New returns the backend named by opts.Provider.
func New(opts Options) (Generator, error) {
	switch strings.ToLower(opts.Provider) {
	case ProviderOllama:
		return NewOllama(opts.BaseURL, opts.Timeout), nil
	case ProviderOpenAI, "huggingface", "openrouter":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("provider %s requires an API key", opts.Provider)
		}
		return NewOpenAI(opts.APIKey, opts.BaseURL, opts.Timeout), nil
	case ProviderOffline, "":
		return Offline{}, nil
	}
	return nil, fmt.Errorf("unknown generation provider %q", opts.Provider)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrTransport) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Offline never calls a model. It makes the agent answer from the knowledge
// base directly.
type Offline struct{}

func (Offline) Generate(context.Context, Request) (string, error) {
	return KnowledgeBaseOnly, nil
}
