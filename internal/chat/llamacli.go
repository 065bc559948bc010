package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"hark/internal/dialog"
	"hark/pkg/protocol"
)

// LlamaCLI runs one llama-cli process per request. The rendered prompt is
// fed on stdin and the reply is read until llama-cli's end-of-text marker.
type LlamaCLI struct {
	exe      string
	modelDir string
	codec    protocol.Codec
	logger   *log.Logger

	// command builds the process; tests swap it for a helper binary.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewLlamaCLI(exe, modelDir string, logger *log.Logger) *LlamaCLI {
	if exe == "" {
		exe = "llama-cli"
	}
	return &LlamaCLI{
		exe:      exe,
		modelDir: modelDir,
		codec:    protocol.NewCodec(protocol.DefaultTerminal, protocol.DefaultLimit),
		logger:   logger.With("component", "chat", "backend", BackendLlamaCLI),
		command:  exec.CommandContext,
	}
}

func (l *LlamaCLI) Name() string { return BackendLlamaCLI }

// ModelPath maps a model name such as granite3.2:2b to
// <modelDir>/granite3.2-2b.gguf. Names that already look like paths are kept.
func (l *LlamaCLI) ModelPath(model string) string {
	if strings.HasSuffix(model, ".gguf") || strings.ContainsRune(model, os.PathSeparator) {
		return model
	}
	return filepath.Join(l.modelDir, strings.ReplaceAll(model, ":", "-")+".gguf")
}

func (l *LlamaCLI) Chat(ctx context.Context, model string, turns []dialog.Turn) (string, error) {
	prompt, err := RenderPrompt(turns)
	if err != nil {
		return "", err
	}

	cmd := l.command(ctx, l.exe,
		"-m", l.ModelPath(model),
		"-f", "/dev/stdin",
		"-no-cnv",
		"--no-display-prompt",
		"--simple-io",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("llama-cli stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("llama-cli stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", l.exe, err)
	}

	writeErr := l.codec.Encode(stdin, protocol.Request{Prompt: prompt})
	stdin.Close()

	text, readErr := l.codec.Decode(stdout)
	// drain trailing perf output so the process can exit
	io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return "", ctx.Err()
	case writeErr != nil:
		return "", fmt.Errorf("llama-cli request: %w", writeErr)
	case readErr != nil:
		var pe *protocol.ParseError
		if errors.As(readErr, &pe) && waitErr != nil {
			return "", fmt.Errorf("llama-cli exited: %w (stderr: %s): %w", waitErr, lastLine(stderr.String()), readErr)
		}
		return "", fmt.Errorf("llama-cli reply: %w", readErr)
	case waitErr != nil:
		l.logger.Warn("llama-cli exited with error after reply", "err", waitErr)
	}
	return text, nil
}

func (l *LlamaCLI) Health(ctx context.Context) error {
	if _, err := exec.LookPath(l.exe); err != nil {
		return unavailable(BackendLlamaCLI, err)
	}
	return nil
}

func (l *LlamaCLI) EnsureModel(ctx context.Context, model string) error {
	path := l.ModelPath(model)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("model file %s: %w", path, err)
	}
	return nil
}

// RenderPrompt formats the history with the granite chat template, leaving
// the assistant role open for the reply.
func RenderPrompt(turns []dialog.Turn) (string, error) {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case dialog.System, dialog.User, dialog.Assistant, dialog.Control:
		default:
			return "", fmt.Errorf("llama-cli: unsupported role %v", t.Role)
		}
		fmt.Fprintf(&b, "<|start_of_role|>%s<|end_of_role|>%s<|end_of_text|>\n", t.Role, t.Content)
	}
	b.WriteString("<|start_of_role|>assistant<|end_of_role|>")
	return b.String(), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
