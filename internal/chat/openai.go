package chat

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"hark/internal/dialog"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint: Ollama's
// /v1, llama-server, vLLM or OpenAI itself.
type OpenAI struct {
	client openai.Client
	logger *log.Logger
}

func NewOpenAI(baseURL, apiKey string, hc *http.Client, logger *log.Logger, extra ...option.RequestOption) *OpenAI {
	opts := []option.RequestOption{option.WithHTTPClient(hc)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	return &OpenAI{
		client: openai.NewClient(opts...),
		logger: logger.With("component", "chat", "backend", BackendOpenAI),
	}
}

func (o *OpenAI) Name() string { return BackendOpenAI }

func (o *OpenAI) Chat(ctx context.Context, model string, turns []dialog.Turn) (string, error) {
	msgs, overrides, err := openaiMessages(turns)
	if err != nil {
		return "", err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(model),
	}, overrides...)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	o.logger.Debug("chat done",
		"model", resp.Model,
		"reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return unavailable(BackendOpenAI, err)
	}
	return nil
}

// EnsureModel only checks that the endpoint serves the model; pulling is not
// part of the OpenAI API.
func (o *OpenAI) EnsureModel(ctx context.Context, model string) error {
	if _, err := o.client.Models.Get(ctx, model); err != nil {
		return fmt.Errorf("model %q not served: %w", model, err)
	}
	return nil
}

// openaiMessages maps the history onto chat messages. The SDK has no control
// role, so those turns go out as user messages whose role is rewritten in the
// request body.
func openaiMessages(turns []dialog.Turn) ([]openai.ChatCompletionMessageParamUnion, []option.RequestOption, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	var overrides []option.RequestOption

	for i, t := range turns {
		switch t.Role {
		case dialog.System:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case dialog.User:
			msgs = append(msgs, openai.UserMessage(t.Content))
		case dialog.Assistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		case dialog.Control:
			msgs = append(msgs, openai.UserMessage(t.Content))
			overrides = append(overrides, option.WithJSONSet(fmt.Sprintf("messages.%d.role", i), "control"))
		default:
			return nil, nil, fmt.Errorf("openai: unsupported role %v", t.Role)
		}
	}
	return msgs, overrides, nil
}
