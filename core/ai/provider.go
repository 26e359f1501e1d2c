package ai

import (
	"context"
	"fmt"
	"strings"

	coreconfig "github.com/m3rciful/multibot/core/config"
)

// Provider is the contract every AI backend implements. Text generation and
// audio transcription are separate concerns; the configured chat provider
// and ASR provider may be different instances.
type Provider interface {
	// GenerateText produces an assistant reply for the given conversation.
	GenerateText(ctx context.Context, messages []ChatMessage, opts *GenerationOptions) (string, error)
	// Transcribe converts OGG/Opus voice audio into text. An empty language
	// lets the backend auto-detect.
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// New builds a provider by name. Both the chat and ASR selection go through
// here so the two can share an implementation when configured identically.
func New(name string, cfg coreconfig.AIConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case coreconfig.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIKey)
	case coreconfig.ProviderGemini:
		return NewGemini(cfg.GeminiKey)
	default:
		return nil, fmt.Errorf("ai: unsupported provider %q", name)
	}
}
