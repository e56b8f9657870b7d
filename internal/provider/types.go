// Package provider wraps the LLM backends used for diagnosis reports.
package provider

import (
	"context"
	"time"
)

// Provider is the contract the diagnosis engine needs from an LLM backend.
type Provider interface {
	Name() string
	// Complete sends a system prompt and a user prompt and returns the
	// model's text answer.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config holds settings for a provider instance.
type Config struct {
	Type     string        `json:"type"` // "openai" | "anthropic"
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}
