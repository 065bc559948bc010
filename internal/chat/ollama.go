package chat

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"hark/internal/dialog"
)

type Ollama struct {
	client *api.Client
	logger *log.Logger
}

// NewOllama connects to baseURL, or to OLLAMA_HOST when baseURL is empty.
func NewOllama(baseURL string, hc *http.Client, logger *log.Logger) (*Ollama, error) {
	logger = logger.With("component", "chat", "backend", BackendOllama)

	if baseURL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama: client from environment: %w", err)
		}
		return &Ollama{client: c, logger: logger}, nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse base url %q: %w", baseURL, err)
	}
	return &Ollama{client: api.NewClient(u, hc), logger: logger}, nil
}

func (o *Ollama) Name() string { return BackendOllama }

func (o *Ollama) Chat(ctx context.Context, model string, turns []dialog.Turn) (string, error) {
	msgs, err := ollamaMessages(turns)
	if err != nil {
		return "", err
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
	}

	var out strings.Builder
	err = o.client.Chat(ctx, req, func(r api.ChatResponse) error {
		out.WriteString(r.Message.Content)
		if r.Done {
			o.logger.Debug("chat done",
				"model", r.Model,
				"reason", r.DoneReason,
				"prompt_tokens", r.PromptEvalCount,
				"eval_tokens", r.EvalCount,
				"eval", r.EvalDuration,
			)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return out.String(), nil
}

func (o *Ollama) Health(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return unavailable(BackendOllama, err)
	}
	return nil
}

func (o *Ollama) EnsureModel(ctx context.Context, model string) error {
	list, err := o.client.List(ctx)
	if err != nil {
		return fmt.Errorf("ollama list: %w", err)
	}
	for _, m := range list.Models {
		if sameModel(m.Name, model) || sameModel(m.Model, model) {
			o.logger.Debug("model available", "model", model)
			return nil
		}
	}

	o.logger.Info("model not found locally, pulling", "model", model)
	last := ""
	err = o.client.Pull(ctx, &api.PullRequest{Model: model}, func(p api.ProgressResponse) error {
		if p.Status != last {
			last = p.Status
			o.logger.Info("pull", "model", model, "status", p.Status)
		}
		if p.Total > 0 && p.Completed == p.Total {
			o.logger.Debug("pull layer done", "digest", p.Digest, "bytes", p.Total)
		}
		return nil
	})
	if err != nil {
		var se api.StatusError
		if errors.As(err, &se) {
			return fmt.Errorf("ollama pull %s: %d %s", model, se.StatusCode, se.ErrorMessage)
		}
		return fmt.Errorf("ollama pull %s: %w", model, err)
	}
	return nil
}

// sameModel treats an untagged name as :latest.
func sameModel(a, b string) bool {
	norm := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return a != "" && norm(a) == norm(b)
}

func ollamaMessages(turns []dialog.Turn) ([]api.Message, error) {
	msgs := make([]api.Message, 0, len(turns))
	for _, t := range turns {
		var role string
		switch t.Role {
		case dialog.System:
			role = "system"
		case dialog.User:
			role = "user"
		case dialog.Assistant:
			role = "assistant"
		case dialog.Control:
			role = "control"
		default:
			return nil, fmt.Errorf("ollama: unsupported role %v", t.Role)
		}
		msgs = append(msgs, api.Message{Role: role, Content: t.Content})
	}
	return msgs, nil
}
