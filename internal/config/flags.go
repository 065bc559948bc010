package config

import (
	cli "github.com/spf13/pflag"
)

// BindFlags registers command line flags on fs that write straight into cfg.
// Current values of cfg become the flag defaults, so env overrides stay visible
// in --help.
func BindFlags(fs *cli.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Audio.SampleRate, "sample-rate", cfg.Audio.SampleRate, "Capture sample rate in Hz")
	fs.IntVar(&cfg.Audio.FrameSize, "frame-size", cfg.Audio.FrameSize, "Samples per captured frame")
	fs.DurationVar(&cfg.Audio.MaxSpeech, "max-speech", cfg.Audio.MaxSpeech, "Maximum utterance duration")
	fs.IntVar(&cfg.Audio.QueueFrames, "queue-frames", cfg.Audio.QueueFrames, "Capture hand-off queue length in frames")
	fs.BoolVar(&cfg.Audio.Duck, "duck", cfg.Audio.Duck, "Lower other audio streams while listening and speaking")
	fs.StringVar(&cfg.Audio.Cue, "cue", cfg.Audio.Cue, "MP3 played when listening starts")
	fs.BoolVar(&cfg.Audio.Notify, "notify", cfg.Audio.Notify, "Show desktop notifications while listening")
	fs.StringVar(&cfg.Audio.VADEngine, "vad", cfg.Audio.VADEngine, "Voice activity model (silero|energy)")
	fs.StringVar(&cfg.Audio.VADModel, "vad-model", cfg.Audio.VADModel, "Silero VAD onnx model path")
	fs.StringVar(&cfg.Audio.OnnxRuntime, "onnxruntime", cfg.Audio.OnnxRuntime, "onnxruntime shared library path")
	fs.Float64Var(&cfg.Audio.VADThreshold, "vad-threshold", cfg.Audio.VADThreshold, "Speech probability threshold")
	fs.DurationVar(&cfg.Audio.VADMinSilence, "vad-silence", cfg.Audio.VADMinSilence, "Silence that ends an utterance")

	fs.StringVar(&cfg.Transcription.Model, "whisper-model", cfg.Transcription.Model, "whisper.cpp model path")
	fs.StringVar(&cfg.Transcription.Language, "language", cfg.Transcription.Language, "Transcription language (auto for detection)")
	fs.IntVar(&cfg.Transcription.Threads, "whisper-threads", cfg.Transcription.Threads, "Transcription threads, 0 = all CPUs")

	fs.StringVarP(&cfg.Chat.Backend, "backend", "b", cfg.Chat.Backend, "Chat backend (ollama|openai|llamacli)")
	fs.StringVarP(&cfg.Chat.Model, "model", "m", cfg.Chat.Model, "Chat model name")
	fs.StringVar(&cfg.Chat.BaseURL, "base-url", cfg.Chat.BaseURL, "Chat backend base URL")
	fs.StringVarP(&cfg.Chat.Proxy, "proxy", "p", cfg.Chat.Proxy, "SOCKS5 proxy address for HTTP backends")
	fs.DurationVar(&cfg.Chat.Timeout, "chat-timeout", cfg.Chat.Timeout, "Timeout per chat call, 0 = none")
	fs.BoolVar(&cfg.Chat.Reasoning, "reasoning", cfg.Chat.Reasoning, "Activate reasoning for models that support it")
	fs.StringVar(&cfg.Chat.LlamaCLI, "llama-cli", cfg.Chat.LlamaCLI, "llama-cli executable for the llamacli backend")
	fs.StringVar(&cfg.Chat.ModelDir, "model-dir", cfg.Chat.ModelDir, "GGUF model directory for the llamacli backend")

	fs.StringVar(&cfg.Synthesis.Engine, "synth", cfg.Synthesis.Engine, "Speech synthesis engine (piper|espeak|none)")
	fs.StringVar(&cfg.Synthesis.PiperExe, "piper", cfg.Synthesis.PiperExe, "piper executable")
	fs.StringVar(&cfg.Synthesis.PiperPath, "piper-model", cfg.Synthesis.PiperPath, "piper voice model path")
	fs.StringVar(&cfg.Synthesis.Voice, "voice", cfg.Synthesis.Voice, "espeak voice name")
	fs.StringVar(&cfg.Synthesis.OutputDir, "output-dir", cfg.Synthesis.OutputDir, "Directory for saved replies")

	fs.StringVarP(&cfg.Logging.Level, "log", "l", cfg.Logging.Level, "Log level")
	fs.StringVar(&cfg.Logging.Dir, "log-dir", cfg.Logging.Dir, "Log file directory, empty disables file logging")
	fs.BoolVar(&cfg.Logging.Console, "console", cfg.Logging.Console, "Also log to the console")

	fs.StringVar(&cfg.UseCases, "usecases", cfg.UseCases, "Use case registry YAML, empty for the built-in one")
	fs.StringVar(&cfg.BusURL, "bus", cfg.BusURL, "Websocket URL to publish conversation events to")
	fs.StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "Control socket path, empty disables it")
}
