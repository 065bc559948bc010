package config

import (
	"fmt"
	"time"
)

const (
	DefaultSampleRate    = 16000
	DefaultFrameSize     = 512
	DefaultMaxSpeech     = 60 * time.Second
	DefaultVADThreshold  = 0.5
	DefaultVADMinSilence = 500 * time.Millisecond
	DefaultVADEngine     = "silero"
	DefaultVADModel      = "models/silero_vad.onnx"
	DefaultOnnxRuntime   = "onnx/libonnxruntime.so"

	DefaultWhisperModel = "models/ggml-base.en.bin"
	DefaultLanguage     = "en"

	DefaultBackend   = "ollama"
	DefaultModel     = "granite3.2:2b"
	DefaultLlamaCLI  = "llama-cli"
	DefaultModelDir  = "models"
	DefaultSynth     = "piper"
	DefaultPiperExe  = "piper"
	DefaultPiperPath = "piper_models/en_US-amy-medium.onnx"

	DefaultOutputDir = "wav_outputs"
	DefaultLogDir    = "logs"
	DefaultLogLevel  = "info"
	DefaultUseCase   = "general"
	DefaultSocket    = "/tmp/hark.sock"
)

// Error marks a missing or invalid setting. It is the ConfigError of the pipeline.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

type Audio struct {
	SampleRate    int
	FrameSize     int
	MaxSpeech     time.Duration
	QueueFrames   int
	Duck          bool
	Cue           string
	Notify        bool
	VADEngine     string
	VADModel      string
	OnnxRuntime   string
	VADThreshold  float64
	VADMinSilence time.Duration
}

type Transcription struct {
	Model    string
	Language string
	Threads  int
}

type Chat struct {
	Backend   string
	Model     string
	BaseURL   string
	APIKey    string
	Proxy     string
	Timeout   time.Duration
	Reasoning bool
	LlamaCLI  string
	ModelDir  string
}

type Synthesis struct {
	Engine    string
	PiperExe  string
	PiperPath string
	Voice     string
	OutputDir string
}

type Logging struct {
	Level   string
	Dir     string
	Console bool
}

// Config is the full set of values the pipeline consumes. Loading happens once at
// startup; components get the sections they need through their constructors.
type Config struct {
	Audio         Audio
	Transcription Transcription
	Chat          Chat
	Synthesis     Synthesis
	Logging       Logging

	UseCases   string
	BusURL     string
	SocketPath string
}

// Default returns the configuration the pipeline ships with.
func Default() Config {
	return Config{
		Audio: Audio{
			SampleRate:    DefaultSampleRate,
			FrameSize:     DefaultFrameSize,
			MaxSpeech:     DefaultMaxSpeech,
			QueueFrames:   256,
			VADEngine:     DefaultVADEngine,
			VADModel:      DefaultVADModel,
			OnnxRuntime:   DefaultOnnxRuntime,
			VADThreshold:  DefaultVADThreshold,
			VADMinSilence: DefaultVADMinSilence,
		},
		Transcription: Transcription{
			Model:    DefaultWhisperModel,
			Language: DefaultLanguage,
		},
		Chat: Chat{
			Backend:   DefaultBackend,
			Model:     DefaultModel,
			Reasoning: true,
			LlamaCLI:  DefaultLlamaCLI,
			ModelDir:  DefaultModelDir,
		},
		Synthesis: Synthesis{
			Engine:    DefaultSynth,
			PiperExe:  DefaultPiperExe,
			PiperPath: DefaultPiperPath,
			OutputDir: DefaultOutputDir,
		},
		Logging: Logging{
			Level: DefaultLogLevel,
			Dir:   DefaultLogDir,
		},
		SocketPath: DefaultSocket,
	}
}

// Validate rejects values the core cannot work with.
func (c *Config) Validate() error {
	a := c.Audio
	if a.SampleRate <= 0 {
		return &Error{"audio.sample_rate", fmt.Sprintf("must be > 0, got %d", a.SampleRate)}
	}
	if a.FrameSize <= 0 {
		return &Error{"audio.frame_size", fmt.Sprintf("must be > 0, got %d", a.FrameSize)}
	}
	if a.MaxSpeech <= 0 {
		return &Error{"audio.max_speech", "must be positive"}
	}
	if a.QueueFrames <= 0 {
		return &Error{"audio.queue_frames", "must be positive"}
	}
	if a.VADThreshold <= 0 || a.VADThreshold >= 1 {
		return &Error{"audio.vad_threshold", fmt.Sprintf("must be in (0, 1), got %g", a.VADThreshold)}
	}
	if a.VADMinSilence < 0 {
		return &Error{"audio.vad_min_silence", "must be >= 0"}
	}
	switch a.VADEngine {
	case "silero", "energy":
	default:
		return &Error{"audio.vad", fmt.Sprintf("unknown engine %q", a.VADEngine)}
	}

	switch c.Chat.Backend {
	case "ollama", "openai", "llamacli":
	default:
		return &Error{"chat.backend", fmt.Sprintf("unknown backend %q", c.Chat.Backend)}
	}
	if c.Chat.Model == "" {
		return &Error{"chat.model", "required"}
	}
	if c.Chat.Timeout < 0 {
		return &Error{"chat.timeout", "must be >= 0"}
	}

	switch c.Synthesis.Engine {
	case "piper", "espeak", "none":
	default:
		return &Error{"synthesis.engine", fmt.Sprintf("unknown engine %q", c.Synthesis.Engine)}
	}
	if c.Synthesis.OutputDir == "" {
		return &Error{"synthesis.output_dir", "required"}
	}

	if _, ok := LogLevels[c.Logging.Level]; !ok {
		return &Error{"logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	return nil
}
