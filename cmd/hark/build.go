package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"

	"hark/internal/audio"
	"hark/internal/chat"
	"hark/internal/config"
	"hark/internal/dialog"
	"hark/internal/notify"
	"hark/internal/pipeline"
	"hark/internal/proxy"
	"hark/internal/segment"
	"hark/internal/telemetry"
	"hark/internal/tts"
	"hark/internal/usecase"
	"hark/internal/vad"
	"hark/pkg/audioconv"
	"hark/pkg/bus"
	"hark/pkg/stt"
)

// app owns everything that must be released at exit.
type app struct {
	deps    pipeline.Deps
	closers []func() error
	logger  *log.Logger
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "err", err)
		return err
	}
	return nil
}

// build wires every component. On error the resources acquired so far are
// already released.
func build(ctx context.Context, cfg config.Config, opt pipeline.Options, tel *telemetry.Recorder, logger *log.Logger) (*app, error) {
	a := &app{logger: logger}
	if err := a.wire(ctx, cfg, opt, tel); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg config.Config, opt pipeline.Options, tel *telemetry.Recorder) error {
	logger := a.logger

	registry := usecase.Builtin()
	if cfg.UseCases != "" {
		var err error
		if registry, err = usecase.Load(cfg.UseCases); err != nil {
			return err
		}
	}
	logger.Debug("use cases loaded", "keys", registry.Keys(), "default", registry.Default())

	httpClient, err := proxy.NewClient(cfg.Chat.Proxy, 0)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	backend, err := chat.New(chat.Config{
		Backend:  cfg.Chat.Backend,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
		LlamaCLI: cfg.Chat.LlamaCLI,
		ModelDir: cfg.Chat.ModelDir,
		HTTP:     httpClient,
	}, logger)
	if err != nil {
		return err
	}

	orch, err := dialog.New(backend, registry, dialog.Options{
		Backend:   backend.Name(),
		Model:     cfg.Chat.Model,
		Reasoning: cfg.Chat.Reasoning,
		Timeout:   cfg.Chat.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	a.deps = pipeline.Deps{
		Chat:      backend,
		Model:     cfg.Chat.Model,
		Dialog:    orch,
		Registry:  registry,
		Telemetry: tel,
		In:        os.Stdin,
		Out:       os.Stdout,
		Logger:    logger,
	}

	player := audio.NewPlayer(audio.DefaultPlaybackRate, logger)
	a.deps.Player = player

	if opt.Mode == pipeline.AudioMode {
		if err := a.transcription(cfg, opt, tel, player, logger); err != nil {
			return err
		}
	}

	if opt.Output != pipeline.OutputNone {
		synth, err := a.synthesizer(cfg, logger)
		if err != nil {
			return err
		}
		a.deps.Synth = synth
	}

	if cfg.Audio.Duck {
		a.deps.Ducker = audio.NewDucker([]string{"hark"}, 10)
	}

	if cfg.BusURL != "" {
		pub, err := bus.Dial(ctx, cfg.BusURL, bus.Options{}, logger)
		if err != nil {
			// events are optional, the conversation runs without them
			logger.Warn("event bus unavailable", "url", cfg.BusURL, "err", err)
		} else {
			a.deps.Bus = pub
			a.onClose(pub.Close)
		}
	}

	return nil
}

// transcription wires whisper and, for the microphone, capture plus VAD
// segmentation.
func (a *app) transcription(cfg config.Config, opt pipeline.Options, tel *telemetry.Recorder, player *audio.Player, logger *log.Logger) error {
	tr, err := stt.NewTranscriber(cfg.Transcription.Model, stt.Options{
		Language: cfg.Transcription.Language,
		Threads:  cfg.Transcription.Threads,
	})
	if err != nil {
		return fmt.Errorf("whisper: %w", err)
	}
	a.onClose(tr.Close)
	a.deps.Transcriber = tr
	logger.Debug("Loaded whisper", "model", cfg.Transcription.Model)

	a.deps.Decode = func(ctx context.Context, path string) ([]float32, error) {
		return audioconv.DecodeFile(ctx, path, audioconv.Options{SampleRate: cfg.Audio.SampleRate})
	}

	if opt.Source != pipeline.MicSource {
		return nil
	}

	model, err := vadModel(cfg.Audio)
	if err != nil {
		return err
	}
	it, err := vad.NewIterator(model, vad.Options{
		SampleRate: cfg.Audio.SampleRate,
		Threshold:  float32(cfg.Audio.VADThreshold),
		MinSilence: cfg.Audio.VADMinSilence,
		SpeechPad:  vad.DefaultOptions().SpeechPad,
	})
	if err != nil {
		model.Close()
		return err
	}
	a.onClose(it.Close)

	seg, err := segment.New(it, segment.Options{
		SampleRate: cfg.Audio.SampleRate,
		MaxSpeech:  cfg.Audio.MaxSpeech,
	}, logger)
	if err != nil {
		return err
	}

	if err := audio.Init(); err != nil {
		return err
	}
	a.onClose(audio.Terminate)

	capture, err := audio.NewCapture(audio.CaptureOptions{
		SampleRate:  cfg.Audio.SampleRate,
		FrameSize:   cfg.Audio.FrameSize,
		QueueFrames: cfg.Audio.QueueFrames,
	}, logger)
	if err != nil {
		return err
	}
	a.onClose(capture.Stop)
	a.deps.Listener = pipeline.NewMicrophone(capture, seg, tel, logger)

	if cfg.Audio.Cue != "" || cfg.Audio.Notify {
		a.deps.Cue = notify.New(player, cfg.Audio.Cue, cfg.Audio.Notify, logger)
	}
	logger.Debug("Loaded recorder", "vad", cfg.Audio.VADEngine, "frame_size", cfg.Audio.FrameSize)
	return nil
}

func vadModel(cfg config.Audio) (vad.Model, error) {
	switch cfg.VADEngine {
	case "energy":
		return vad.NewEnergyModel(vad.DefaultReference), nil
	default:
		m, err := vad.NewSileroModel(vad.SileroConfig{
			ModelPath:   cfg.VADModel,
			RuntimePath: cfg.OnnxRuntime,
			SampleRate:  cfg.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("silero vad: %w", err)
		}
		return m, nil
	}
}

// synthesizer builds the configured engine with espeak behind it as a
// fallback when that library initializes.
func (a *app) synthesizer(cfg config.Config, logger *log.Logger) (tts.Synthesizer, error) {
	var synths []tts.Synthesizer
	if cfg.Synthesis.Engine == "piper" {
		synths = append(synths, tts.NewPiper(cfg.Synthesis.PiperExe, cfg.Synthesis.PiperPath, logger))
	}

	es, err := tts.NewEspeak(cfg.Synthesis.Voice)
	switch {
	case err == nil:
		a.onClose(es.Close)
		synths = append(synths, es)
	case cfg.Synthesis.Engine == "espeak":
		return nil, err
	default:
		logger.Warn("espeak fallback unavailable", "err", err)
	}

	if len(synths) == 1 {
		return synths[0], nil
	}
	return tts.NewChain(logger, synths...)
}
