// Package pipeline drives one conversation end to end: input, transcription,
// dialog turns and spoken output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hark/internal/dialog"
	"hark/internal/segment"
	"hark/internal/telemetry"
	"hark/internal/tts"
	"hark/internal/usecase"
	"hark/pkg/bus"
)

var (
	ErrNoInput = errors.New("no valid input received")
	ErrModel   = errors.New("chat model unavailable")
)

const (
	duckFactor = 0.3
	duckFade   = 200 * time.Millisecond
)

type Stage string

const (
	StageStarting     Stage = "starting"
	StageListening    Stage = "listening"
	StageTranscribing Stage = "transcribing"
	StageThinking     Stage = "thinking"
	StageSpeaking     Stage = "speaking"
	StageWaiting      Stage = "waiting for input"
	StageDone         Stage = "done"
)

type Gateway interface {
	Health(ctx context.Context) error
	EnsureModel(ctx context.Context, model string) error
}

type Conversation interface {
	StartTurn(ctx context.Context, useCase, text string) (string, error)
	ContinueTurn(ctx context.Context, text string) (dialog.Reply, error)
	ExtractSynthesisText(useCase, reply string) string
	Session() *dialog.Session
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

type Listener interface {
	Listen(ctx context.Context) (segment.Utterance, error)
}

type Player interface {
	PlayPCM(ctx context.Context, samples []float32, rate int) error
	PlayFile(ctx context.Context, path string) error
}

type Publisher interface {
	Publish(typ, session string, data any) error
}

type Ducker interface {
	Duck(ctx context.Context, factor float64, dur time.Duration) error
	Restore(ctx context.Context, dur time.Duration) error
}

type Cue interface {
	Listening(ctx context.Context)
}

// Deps are the collaborators of a run. Only what the chosen Options need has
// to be set.
type Deps struct {
	Chat     Gateway
	Model    string
	Dialog   Conversation
	Registry *usecase.Registry

	Transcriber Transcriber
	Listener    Listener
	Decode      func(ctx context.Context, path string) ([]float32, error)

	Synth  tts.Synthesizer
	Player Player

	Bus       Publisher
	Ducker    Ducker
	Cue       Cue
	Telemetry *telemetry.Recorder

	In     io.Reader
	Out    io.Writer
	Logger *log.Logger
	Now    func() time.Time
}

type Status struct {
	Stage   Stage
	Session string
	UseCase string
	Turns   int
	Uptime  time.Duration
}

type Pipeline struct {
	deps    Deps
	opt     Options
	profile usecase.Profile
	prompt  *Prompter
	logger  *log.Logger
	saved   int
	started time.Time

	mu      sync.Mutex
	stage   Stage
	session string
	turns   int
}

func New(opt Options, deps Deps) (*Pipeline, error) {
	if deps.Chat == nil || deps.Dialog == nil || deps.Registry == nil {
		return nil, errors.New("pipeline: chat, dialog and registry are required")
	}
	profile, err := deps.Registry.Get(opt.UseCase)
	if err != nil {
		return nil, err
	}

	if opt.Mode == AudioMode {
		if deps.Transcriber == nil {
			return nil, errors.New("pipeline: audio mode needs a transcriber")
		}
		if opt.Source == MicSource && deps.Listener == nil {
			return nil, errors.New("pipeline: microphone source needs a listener")
		}
		if opt.Source == FileSource && deps.Decode == nil {
			return nil, errors.New("pipeline: file source needs a decoder")
		}
	}
	if opt.Output != OutputNone && deps.Synth == nil {
		return nil, fmt.Errorf("pipeline: output mode %s needs a synthesizer", opt.Output)
	}
	if (opt.Output == OutputPlay || opt.Output == OutputBoth) && deps.Player == nil {
		return nil, fmt.Errorf("pipeline: output mode %s needs a player", opt.Output)
	}
	if opt.SampleRate <= 0 {
		opt.SampleRate = 16000
	}

	if deps.In == nil {
		deps.In = os.Stdin
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Pipeline{
		deps:    deps,
		opt:     opt,
		profile: profile,
		prompt:  NewPrompter(deps.In, deps.Out),
		logger:  deps.Logger.With("component", "pipeline"),
		stage:   StageStarting,
		started: deps.Now(),
	}, nil
}

// Status is safe to call from other goroutines.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Stage:   p.stage,
		Session: p.session,
		UseCase: p.profile.Key,
		Turns:   p.turns,
		Uptime:  p.deps.Now().Sub(p.started),
	}
}

func (p *Pipeline) setStage(s Stage) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
}

func (p *Pipeline) syncSession() {
	s := p.deps.Dialog.Session()
	if s == nil {
		return
	}
	p.mu.Lock()
	p.session = s.ID
	p.turns = s.Len()
	p.mu.Unlock()
}

// Run executes the conversation. Errors before the first reply end the run;
// later failures end the follow-up loop and Run returns nil. A cancelled ctx
// is reported as ctx.Err().
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.setStage(StageDone)

	p.logger.Info("pipeline started",
		"usecase", p.profile.Key,
		"mode", p.opt.Mode,
		"source", p.opt.Source,
		"output", p.opt.Output,
		"follow_ups", p.opt.FollowUps,
	)

	if err := p.deps.Chat.Health(ctx); err != nil {
		return err
	}
	if err := p.deps.Chat.EnsureModel(ctx, p.deps.Model); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModel, p.deps.Model, err)
	}

	text, err := p.initialInput(ctx)
	if err != nil {
		return err
	}
	if text == "" {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrNoInput
	}

	p.setStage(StageThinking)
	fmt.Fprintln(p.deps.Out, "\nProcessing your request, please wait...")
	start := time.Now()
	reply, err := p.deps.Dialog.StartTurn(ctx, p.profile.Key, text)
	p.deps.Telemetry.Observe(telemetry.Chat, time.Since(start), 0, err)
	p.syncSession()
	if err != nil {
		return fmt.Errorf("initial request: %w", err)
	}
	p.publish(bus.EventSessionStart, map[string]any{
		"use_case": p.profile.Key,
		"mode":     p.opt.Mode.String(),
	})
	p.deps.Telemetry.Turn(false)
	p.respond(ctx, reply)

	reason := "single turn"
	if p.opt.FollowUps {
		reason = p.followUps(ctx)
	}
	p.publish(bus.EventSessionEnd, map[string]any{"reason": reason, "turns": p.Status().Turns})
	p.logger.Info("conversation ended", "reason", reason)
	return ctx.Err()
}

func (p *Pipeline) followUps(ctx context.Context) string {
	for {
		text, err := p.nextInput(ctx)
		if ctx.Err() != nil {
			return "aborted"
		}
		if err != nil {
			p.logger.Error("follow-up input failed, ending conversation", "err", err)
			return "input error"
		}
		if text == "" {
			p.logger.Info("no follow-up input, ending conversation")
			return "no input"
		}

		p.setStage(StageThinking)
		fmt.Fprintln(p.deps.Out, "\nProcessing your request, please wait...")
		start := time.Now()
		r, err := p.deps.Dialog.ContinueTurn(ctx, text)
		p.deps.Telemetry.Observe(telemetry.Chat, time.Since(start), 0, err)
		p.syncSession()

		if err != nil && r.Decision == dialog.Complete {
			p.logger.Error("farewell failed", "err", err)
			p.decided(dialog.Complete)
			fmt.Fprintln(p.deps.Out, "\nThank you for using the pipeline!")
			return "complete"
		}
		if err != nil {
			if ctx.Err() != nil {
				return "aborted"
			}
			p.logger.Error("follow-up failed, ending conversation", "err", err)
			return "chat error"
		}

		p.decided(r.Decision)
		p.respond(ctx, r.Text)
		if r.Decision == dialog.Complete {
			return "complete"
		}
	}
}

func (p *Pipeline) decided(d dialog.Decision) {
	p.deps.Telemetry.Turn(d == dialog.Complete)
	p.publish(bus.EventDecision, map[string]any{"decision": d.String()})
}

func (p *Pipeline) initialInput(ctx context.Context) (string, error) {
	if p.opt.Mode == TextMode {
		text := p.opt.Text
		if text == "" {
			p.setStage(StageWaiting)
			p.prompt.listQuestions(p.profile)
			line, ok := p.prompt.Ask(ctx, "\nEnter your input, or #N for a predefined question (default #1): ")
			if !ok {
				return "", nil
			}
			if line == "" {
				line = "#1"
			}
			text = line
		}
		return Resolve(p.profile, text)
	}

	if p.opt.Source == MicSource {
		return p.listen(ctx, "")
	}
	path := p.opt.WAVPath
	if path == "" {
		path = p.profile.DefaultAudio
	}
	return p.listen(ctx, path)
}

// nextInput reads a follow-up with the same method as the first input. An
// empty answer ends the conversation.
func (p *Pipeline) nextInput(ctx context.Context) (string, error) {
	switch {
	case p.opt.Mode == TextMode:
		p.setStage(StageWaiting)
		line, ok := p.prompt.Ask(ctx, "\nYour reply (empty to finish): ")
		if !ok || line == "" {
			return "", nil
		}
		return Resolve(p.profile, line)
	case p.opt.Source == FileSource:
		p.setStage(StageWaiting)
		path, ok := p.prompt.Ask(ctx, "\nWAV file with your reply (empty to finish): ")
		if !ok || path == "" {
			return "", nil
		}
		return p.listen(ctx, path)
	default:
		return p.listen(ctx, "")
	}
}

// listen records from the microphone when path is empty, otherwise decodes
// the file, and returns the transcription. No speech yields empty text.
func (p *Pipeline) listen(ctx context.Context, path string) (string, error) {
	var pcm []float32
	if path == "" {
		p.setStage(StageListening)
		p.duck(ctx)
		if p.deps.Cue != nil {
			p.deps.Cue.Listening(ctx)
		}
		utt, err := p.deps.Listener.Listen(ctx)
		p.restore(ctx)
		if errors.Is(err, segment.ErrNoSpeech) {
			p.deps.Telemetry.NoSpeech()
			p.logger.Warn("no speech detected")
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("record: %w", err)
		}
		pcm = utt.Samples
	} else {
		var err error
		p.logger.Info("loading audio file", "path", path)
		if pcm, err = p.deps.Decode(ctx, path); err != nil {
			return "", fmt.Errorf("load %s: %w", path, err)
		}
	}
	return p.transcribe(ctx, pcm), nil
}

func (p *Pipeline) transcribe(ctx context.Context, pcm []float32) string {
	if len(pcm) == 0 {
		p.logger.Warn("no audio to transcribe")
		return ""
	}
	p.setStage(StageTranscribing)

	start := time.Now()
	text, err := p.deps.Transcriber.Transcribe(ctx, pcm)
	audio := time.Duration(len(pcm)) * time.Second / time.Duration(p.opt.SampleRate)
	p.deps.Telemetry.Observe(telemetry.Transcription, time.Since(start), audio, err)
	if err != nil {
		p.logger.Error("transcription failed", "err", err)
		return ""
	}

	text = strings.TrimSpace(text)
	p.logger.Info("transcription", "text", text, "audio", audio)
	fmt.Fprintf(p.deps.Out, "\nTranscription:\n%s\n", text)
	p.publish(bus.EventTranscript, map[string]any{"text": text, "source": p.opt.Source.String()})
	return text
}

func (p *Pipeline) respond(ctx context.Context, reply string) {
	fmt.Fprintf(p.deps.Out, "\nResponse:\n%s\n", reply)
	speech := p.deps.Dialog.ExtractSynthesisText(p.profile.Key, reply)
	p.publish(bus.EventReply, map[string]any{"text": reply, "speech": speech})
	p.output(ctx, speech)
}

// output synthesizes speech for the reply. Failures are logged and skipped.
func (p *Pipeline) output(ctx context.Context, text string) {
	if p.opt.Output == OutputNone {
		return
	}
	p.setStage(StageSpeaking)

	start := time.Now()
	pcm, err := p.deps.Synth.Synthesize(ctx, text)
	p.deps.Telemetry.Observe(telemetry.Synthesis, time.Since(start), pcm.Duration(), err)
	if err != nil {
		p.logger.Error("synthesis failed, skipping output", "err", err)
		return
	}

	saved := ""
	if p.opt.Output.saves() {
		name := p.nextFilename()
		if err := tts.SaveWAV(name, pcm); err != nil {
			p.logger.Error("save output failed", "err", err)
		} else {
			saved = name
			p.logger.Info("audio saved", "path", saved)
			fmt.Fprintf(p.deps.Out, "\nAudio saved to %s\n", saved)
		}
	}

	switch {
	case p.opt.Output == OutputBoth && saved != "":
		p.play(ctx, func(ctx context.Context) error { return p.deps.Player.PlayFile(ctx, saved) })
	case p.opt.Output == OutputPlay || p.opt.Output == OutputBoth:
		p.play(ctx, func(ctx context.Context) error { return p.deps.Player.PlayPCM(ctx, pcm.Samples, pcm.SampleRate) })
	}
}

func (p *Pipeline) play(ctx context.Context, fn func(context.Context) error) {
	p.duck(ctx)
	defer p.restore(ctx)
	if err := fn(ctx); err != nil {
		if ctx.Err() == nil {
			p.logger.Error("playback failed", "err", err)
		}
		return
	}
	p.logger.Info("playback completed")
}

func (p *Pipeline) nextFilename() string {
	p.saved++
	if p.saved == 1 && p.opt.OutputFile != "" {
		return p.opt.OutputFile
	}
	ts := p.deps.Now().Format("20060102_150405")
	return filepath.Join(p.opt.OutputDir, fmt.Sprintf("output_%s_%d.wav", ts, p.saved))
}

func (p *Pipeline) duck(ctx context.Context) {
	if p.deps.Ducker == nil {
		return
	}
	if err := p.deps.Ducker.Duck(ctx, duckFactor, duckFade); err != nil {
		p.logger.Warn("duck other streams", "err", err)
	}
}

// restore runs even when ctx is cancelled so volumes come back on abort.
func (p *Pipeline) restore(ctx context.Context) {
	if p.deps.Ducker == nil {
		return
	}
	if err := p.deps.Ducker.Restore(context.WithoutCancel(ctx), duckFade); err != nil {
		p.logger.Warn("restore other streams", "err", err)
	}
}

func (p *Pipeline) publish(typ string, data any) {
	if p.deps.Bus == nil {
		return
	}
	p.mu.Lock()
	sid := p.session
	p.mu.Unlock()
	if err := p.deps.Bus.Publish(typ, sid, data); err != nil {
		p.logger.Debug("publish event", "type", typ, "err", err)
	}
}
