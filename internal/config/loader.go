package config

import (
	log "log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

var LogLevels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// Loader builds a Config from defaults and environment variables. Tests can
// override Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load returns the default configuration with environment overrides applied.
// Flags are bound on top of the result by the binary, so the caller validates.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Default()

	overrideString(l.Lookup, "HARK_BACKEND", &cfg.Chat.Backend)
	overrideString(l.Lookup, "HARK_MODEL", &cfg.Chat.Model)
	overrideString(l.Lookup, "HARK_BASE_URL", &cfg.Chat.BaseURL)
	overrideString(l.Lookup, "OPENAI_API_KEY", &cfg.Chat.APIKey)
	overrideString(l.Lookup, "HARK_PROXY", &cfg.Chat.Proxy)
	overrideString(l.Lookup, "HARK_LLAMA_CLI", &cfg.Chat.LlamaCLI)
	overrideString(l.Lookup, "HARK_MODEL_DIR", &cfg.Chat.ModelDir)
	overrideString(l.Lookup, "HARK_WHISPER_MODEL", &cfg.Transcription.Model)
	overrideString(l.Lookup, "HARK_LANGUAGE", &cfg.Transcription.Language)
	overrideString(l.Lookup, "HARK_VAD", &cfg.Audio.VADEngine)
	overrideString(l.Lookup, "HARK_VAD_MODEL", &cfg.Audio.VADModel)
	overrideString(l.Lookup, "ONNXRUNTIME_LIB", &cfg.Audio.OnnxRuntime)
	overrideString(l.Lookup, "HARK_CUE", &cfg.Audio.Cue)
	overrideString(l.Lookup, "HARK_SYNTH", &cfg.Synthesis.Engine)
	overrideString(l.Lookup, "HARK_PIPER", &cfg.Synthesis.PiperExe)
	overrideString(l.Lookup, "HARK_PIPER_MODEL", &cfg.Synthesis.PiperPath)
	overrideString(l.Lookup, "HARK_OUTPUT_DIR", &cfg.Synthesis.OutputDir)
	overrideString(l.Lookup, "HARK_LOG_LEVEL", &cfg.Logging.Level)
	overrideString(l.Lookup, "HARK_LOG_DIR", &cfg.Logging.Dir)
	overrideString(l.Lookup, "HARK_USECASES", &cfg.UseCases)
	overrideString(l.Lookup, "BUS_URL", &cfg.BusURL)
	overrideString(l.Lookup, "HARK_SOCKET", &cfg.SocketPath)

	if err := overrideInt(l.Lookup, "HARK_SAMPLE_RATE", &cfg.Audio.SampleRate); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "HARK_FRAME_SIZE", &cfg.Audio.FrameSize); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "HARK_WHISPER_THREADS", &cfg.Transcription.Threads); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(l.Lookup, "HARK_MAX_SPEECH", &cfg.Audio.MaxSpeech); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(l.Lookup, "HARK_VAD_MIN_SILENCE", &cfg.Audio.VADMinSilence); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(l.Lookup, "HARK_CHAT_TIMEOUT", &cfg.Chat.Timeout); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(l.Lookup, "HARK_VAD_THRESHOLD", &cfg.Audio.VADThreshold); err != nil {
		return Config{}, err
	}
	if err := overrideBool(l.Lookup, "HARK_REASONING", &cfg.Chat.Reasoning); err != nil {
		return Config{}, err
	}
	if err := overrideBool(l.Lookup, "HARK_DUCK", &cfg.Audio.Duck); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func lookup(fn func(string) (string, bool), key string) (string, bool) {
	if fn == nil {
		return "", false
	}
	value, ok := fn(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func overrideString(fn func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(fn, key); ok {
		*target = value
	}
}

func overrideInt(fn func(string) (string, bool), key string, target *int) error {
	value, ok := lookup(fn, key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return &Error{key, "not an integer: " + value}
	}
	*target = n
	return nil
}

func overrideFloat(fn func(string) (string, bool), key string, target *float64) error {
	value, ok := lookup(fn, key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return &Error{key, "not a number: " + value}
	}
	*target = f
	return nil
}

func overrideBool(fn func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(fn, key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return &Error{key, "not a boolean: " + value}
	}
	*target = b
	return nil
}

func overrideDuration(fn func(string) (string, bool), key string, target *time.Duration) error {
	value, ok := lookup(fn, key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return &Error{key, "not a duration: " + value}
	}
	*target = d
	return nil
}

// Attrs flattens the configuration for the startup debug dump. The API key is
// never included.
func (c Config) Attrs() []any {
	return []any{
		log.Group("audio",
			"sample_rate", c.Audio.SampleRate,
			"frame_size", c.Audio.FrameSize,
			"max_speech", c.Audio.MaxSpeech,
			"vad", c.Audio.VADEngine,
			"vad_threshold", c.Audio.VADThreshold,
			"vad_min_silence", c.Audio.VADMinSilence,
		),
		log.Group("transcription",
			"model", c.Transcription.Model,
			"language", c.Transcription.Language,
		),
		log.Group("chat",
			"backend", c.Chat.Backend,
			"model", c.Chat.Model,
			"base_url", c.Chat.BaseURL,
			"reasoning", c.Chat.Reasoning,
			"timeout", c.Chat.Timeout,
		),
		log.Group("synthesis",
			"engine", c.Synthesis.Engine,
			"output_dir", c.Synthesis.OutputDir,
		),
	}
}
