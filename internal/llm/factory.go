package llm

import (
	"fmt"
	"net/http"
)

const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
)

// Config selects the wire format and endpoint of a Client.
type Config struct {
	API     string
	BaseURL string
	APIKey  string
}

// FromConfig creates a Client. An empty API means OpenAI-compatible.
func FromConfig(cfg Config, hc *http.Client) (Client, error) {
	switch cfg.API {
	case APIOpenAI, "":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, hc), nil
	case APIAnthropic:
		return NewAnthropicClient(cfg.BaseURL, cfg.APIKey, hc), nil
	default:
		return nil, fmt.Errorf("unknown llm api %q (supported: %s, %s)", cfg.API, APIOpenAI, APIAnthropic)
	}
}
