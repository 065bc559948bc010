// Package chat implements the chat gateways the dialog orchestrator talks to:
// the Ollama native API, any OpenAI-compatible endpoint, and a llama-cli
// subprocess speaking the framed protocol.
package chat

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"strings"

	"hark/internal/dialog"
)

const (
	BackendOllama   = "ollama"
	BackendOpenAI   = "openai"
	BackendLlamaCLI = "llamacli"
)

// DefaultOllamaURL is used by the ollama backend when neither a base URL nor
// OLLAMA_HOST is set. The openai backend keeps the SDK default instead.
const DefaultOllamaURL = "http://127.0.0.1:11434"

// Backend is a chat gateway that can also be checked and prepared before the
// first turn.
type Backend interface {
	dialog.ChatGateway
	Name() string
	// Health fails with dialog.ErrChatUnavailable when the backend cannot be
	// reached.
	Health(ctx context.Context) error
	// EnsureModel makes the model available, pulling it when the backend can.
	EnsureModel(ctx context.Context, model string) error
}

type Config struct {
	Backend  string
	BaseURL  string
	APIKey   string
	LlamaCLI string
	ModelDir string
	HTTP     *http.Client
}

func New(cfg Config, logger *log.Logger) (Backend, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.HTTP == nil {
		cfg.HTTP = http.DefaultClient
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendOllama, "":
		base := cfg.BaseURL
		if _, ok := os.LookupEnv("OLLAMA_HOST"); base == "" && !ok {
			base = DefaultOllamaURL
		}
		return NewOllama(base, cfg.HTTP, logger)
	case BackendOpenAI:
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.HTTP, logger), nil
	case BackendLlamaCLI:
		return NewLlamaCLI(cfg.LlamaCLI, cfg.ModelDir, logger), nil
	}
	return nil, fmt.Errorf("chat: unknown backend %q", cfg.Backend)
}

func unavailable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %w", dialog.ErrChatUnavailable, backend, err)
}
