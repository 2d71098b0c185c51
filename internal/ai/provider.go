package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider generates text from a system instruction, role-tagged messages
// and a token budget. Backends are interchangeable; any failure is
// non-fatal for the caller, which substitutes fallback text.
type Provider interface {
	Generate(ctx context.Context, system string, messages []Message, maxTokens int) (string, error)
}

// NewProvider builds a backend from an engine string.
// Examples: "pollinations", "g4f:gpt-oss-120b", "g4f:groq/qwen/qwen3-32b".
func NewProvider(engine string) (Provider, error) {
	switch {
	case engine == "pollinations":
		return NewPollinationsProvider(), nil
	case engine == "g4f" || strings.HasPrefix(engine, "g4f:"):
		return NewG4FProvider(engine), nil
	default:
		return nil, fmt.Errorf("unsupported AI engine: %s", engine)
	}
}

// Chain tries the primary backend and, when it fails, the designated
// fallback. Either slot may be nil.
type Chain struct {
	Primary  Provider
	Fallback Provider
}

// NewChain builds providers for both engine strings. A broken fallback
// engine is logged and ignored; a broken primary is an error.
func NewChain(primaryEngine, fallbackEngine string) (*Chain, error) {
	primary, err := NewProvider(primaryEngine)
	if err != nil {
		return nil, err
	}
	c := &Chain{Primary: primary}
	if fallbackEngine != "" && fallbackEngine != primaryEngine {
		fb, err := NewProvider(fallbackEngine)
		if err != nil {
			log.Printf("[AI] fallback engine unavailable: %v", err)
		} else {
			c.Fallback = fb
		}
	}
	return c, nil
}

// Generate runs the primary, then the fallback on failure.
func (c *Chain) Generate(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	text, err := c.Primary.Generate(ctx, system, messages, maxTokens)
	if err == nil {
		return text, nil
	}
	if c.Fallback == nil {
		return "", err
	}
	log.Printf("[AI] primary generate failed, trying fallback: %v", err)
	text, fbErr := c.Fallback.Generate(ctx, system, messages, maxTokens)
	if fbErr != nil {
		return "", fmt.Errorf("primary: %v; fallback: %w", err, fbErr)
	}
	return text, nil
}

// withSystem prepends the system instruction to the message list.
func withSystem(system string, messages []Message) []Message {
	if system == "" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: system})
	return append(out, messages...)
}
