package dialog

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"hark/internal/usecase"
)

const ClassifierPrompt = "You are a helpful assistant that determines if a user input mean that they want to execute some previously agreed actions or not, ending the conversation.\n" +
	"Assume that when the user asks a question he has still not agreed.\n" +
	"Assume that if the is giving new information the conversation is not over.\n" +
	"Respond with ONLY 'yes' if they are done or 'no' if they want to continue."

const classifierQuery = `The last message the user got is: "%s". The user answered: "%s". Does this user response indicate that he wants to execute the previously agreed actions? Respond with ONLY 'yes' or 'no'`

// ChatGateway sends an ordered history to a model and returns the reply text.
type ChatGateway interface {
	Chat(ctx context.Context, model string, turns []Turn) (string, error)
}

type Options struct {
	Backend string
	Model   string
	// Reasoning is the global switch; the model must also match Methods.
	Reasoning        bool
	Methods          Reasoning
	ClassifierPrompt string
	// Timeout bounds each chat call; zero means no limit.
	Timeout time.Duration
}

type Orchestrator struct {
	gw       ChatGateway
	registry *usecase.Registry
	opt      Options
	logger   *log.Logger

	session *Session
	profile usecase.Profile
}

func New(gw ChatGateway, registry *usecase.Registry, opt Options, logger *log.Logger) (*Orchestrator, error) {
	if gw == nil {
		return nil, errors.New("dialog: nil chat gateway")
	}
	if registry == nil {
		return nil, errors.New("dialog: nil use case registry")
	}
	if strings.TrimSpace(opt.Model) == "" {
		return nil, errors.New("dialog: model is required")
	}
	if opt.Methods == nil {
		opt.Methods = DefaultReasoning()
	}
	if opt.ClassifierPrompt == "" {
		opt.ClassifierPrompt = ClassifierPrompt
	}
	if opt.Backend == "" {
		opt.Backend = "chat"
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Orchestrator{
		gw:       gw,
		registry: registry,
		opt:      opt,
		logger:   logger.With("component", "dialog"),
	}, nil
}

// Session returns the active session or nil before the first turn.
func (o *Orchestrator) Session() *Session {
	return o.session
}

// StartTurn opens a new session for useCase and sends the first user message.
// The profile is resolved once here and kept for the whole session.
func (o *Orchestrator) StartTurn(ctx context.Context, useCase, text string) (string, error) {
	profile, err := o.registry.Get(useCase)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownUseCase, err)
	}

	control := []Turn(nil)
	if o.opt.Reasoning {
		control = o.opt.Methods.turns(o.opt.Model)
	}

	s := newSession(profile.Key, len(control) > 0)
	s.append(Turn{Role: System, Content: profile.SystemPrompt})
	for _, t := range control {
		s.append(t)
	}
	s.append(Turn{Role: User, Content: text})

	o.session = s
	o.profile = profile

	o.logger.Info("session started",
		"session", s.ID,
		"usecase", profile.Key,
		"model", o.opt.Model,
		"reasoning", s.ReasoningRequired,
	)

	reply, err := o.send(ctx, "initial request", s.Turns())
	if err != nil {
		return "", err
	}
	s.append(Turn{Role: Assistant, Content: reply})
	return reply, nil
}

// ContinueTurn appends a follow-up and either answers it with the full
// history or, when the user is done, produces the farewell reply.
func (o *Orchestrator) ContinueTurn(ctx context.Context, text string) (Reply, error) {
	s := o.session
	if s == nil {
		return Reply{}, ErrNoSession
	}

	s.append(Turn{Role: User, Content: text})

	if o.classify(ctx, text) == Complete {
		o.logger.Info("conversation complete", "session", s.ID)
		reply, err := o.send(ctx, "farewell", s.withSystem(o.profile.FarewellPrompt))
		if err != nil {
			return Reply{Decision: Complete}, err
		}
		s.append(Turn{Role: Assistant, Content: reply})
		return Reply{Text: reply, Decision: Complete}, nil
	}

	reply, err := o.send(ctx, "follow-up", s.Turns())
	if err != nil {
		return Reply{Decision: Continue}, err
	}
	s.append(Turn{Role: Assistant, Content: reply})
	return Reply{Text: reply, Decision: Continue}, nil
}

// classify never touches the session. Any failure or non-yes answer keeps the
// conversation going.
func (o *Orchestrator) classify(ctx context.Context, text string) Decision {
	last, _ := o.session.LastAssistant()
	turns := []Turn{
		{Role: System, Content: o.opt.ClassifierPrompt},
		{Role: User, Content: fmt.Sprintf(classifierQuery, last, text)},
	}

	answer, err := o.send(ctx, "conversation completion check", turns)
	if err != nil {
		o.logger.Error("completion check failed, continuing", "session", o.session.ID, "err", err)
		return Continue
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	o.logger.Info("completion check", "session", o.session.ID, "answer", answer)
	if strings.Contains(answer, "yes") {
		return Complete
	}
	return Continue
}

func (o *Orchestrator) send(ctx context.Context, purpose string, turns []Turn) (string, error) {
	o.logHistory(purpose, turns)

	if o.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opt.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := o.gw.Chat(ctx, o.opt.Model, turns)
	if err != nil {
		return "", &ResponseError{Backend: o.opt.Backend, Op: purpose, Err: err}
	}
	if strings.TrimSpace(reply) == "" {
		return "", &ResponseError{Backend: o.opt.Backend, Op: purpose, Err: ErrEmptyReply}
	}

	o.logger.Debug("chat reply", "purpose", purpose, "elapsed", time.Since(start), "reply", reply)
	return reply, nil
}

func (o *Orchestrator) logHistory(purpose string, turns []Turn) {
	if !o.logger.Enabled(context.Background(), log.LevelDebug) {
		return
	}
	data, err := sonic.ConfigDefault.MarshalIndent(turns, "", "    ")
	if err != nil {
		o.logger.Warn("encode message history", "err", err)
		return
	}
	sid := ""
	if o.session != nil {
		sid = o.session.ID
	}
	o.logger.Debug("message history", "session", sid, "purpose", purpose, "turns", string(data))
}

// ExtractSynthesisText returns the part of reply meant to be spoken. For
// profiles with a marker it is the text after the last marker.
func (o *Orchestrator) ExtractSynthesisText(useCase, reply string) string {
	profile, err := o.registry.Get(useCase)
	if err != nil || !profile.Structured() {
		return reply
	}
	text, ok := Extract(reply, profile.ResponseMarker)
	if !ok {
		o.logger.Warn("response marker not found, speaking full reply", "marker", profile.ResponseMarker)
		return reply
	}
	return text
}

// Extract returns the trimmed text after the last occurrence of marker.
func Extract(reply, marker string) (string, bool) {
	i := strings.LastIndex(reply, marker)
	if marker == "" || i < 0 {
		return reply, false
	}
	return strings.TrimSpace(reply[i+len(marker):]), true
}
