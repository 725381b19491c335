package provider

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Model name prefixes routed to hosted providers. Unprefixed names go to Ollama.
const (
	PrefixOpenAI    = "openai/"
	PrefixAnthropic = "anthropic/"
	PrefixGoogle    = "google/"
)

// RegistryOptions controls how NewRegistryFor builds providers.
type RegistryOptions struct {
	OllamaURL  string
	MaxRetries uint64
	RetryBase  time.Duration
	HTTPClient *http.Client
}

// NewRegistryFor builds a registry able to serve every listed model: Ollama as
// the fallback, plus a hosted provider for each prefix that appears in models.
// A hosted prefix whose API key is missing is an error, reported up front
// rather than as a failure of every later invocation.
func NewRegistryFor(models []string, opts RegistryOptions) (*Registry, error) {
	registry := NewRegistry()

	ollamaOpts := []OllamaOption{}
	if opts.OllamaURL != "" {
		ollamaOpts = append(ollamaOpts, WithOllamaBaseURL(opts.OllamaURL))
	}
	if opts.HTTPClient != nil {
		ollamaOpts = append(ollamaOpts, WithOllamaHTTPClient(opts.HTTPClient))
	}
	registry.SetFallback(WithRetry(NewOllama(ollamaOpts...), opts.MaxRetries, opts.RetryBase))
	registry.Reserve(PrefixOpenAI, PrefixAnthropic, PrefixGoogle)

	// Collect the hosted prefixes that are actually needed
	needed := make(map[string]bool)
	for _, m := range models {
		for _, prefix := range []string{PrefixOpenAI, PrefixAnthropic, PrefixGoogle} {
			if strings.HasPrefix(m, prefix) {
				needed[prefix] = true
			}
		}
	}

	for prefix := range needed {
		p, err := createHosted(prefix, opts.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("initializing provider for %s*: %w", prefix, err)
		}
		registry.RegisterPrefix(prefix, WithRetry(p, opts.MaxRetries, opts.RetryBase))
	}

	return registry, nil
}

func createHosted(prefix string, client *http.Client) (Provider, error) {
	switch prefix {
	case PrefixOpenAI:
		var o []OpenAIOption
		if client != nil {
			o = append(o, WithOpenAIHTTPClient(client))
		}
		return NewOpenAI(o...)
	case PrefixAnthropic:
		var o []AnthropicOption
		if client != nil {
			o = append(o, WithAnthropicHTTPClient(client))
		}
		return NewAnthropic(o...)
	case PrefixGoogle:
		var o []GoogleOption
		if client != nil {
			o = append(o, WithGoogleHTTPClient(client))
		}
		return NewGoogle(o...)
	default:
		return nil, fmt.Errorf("unhandled provider prefix %q", prefix)
	}
}
