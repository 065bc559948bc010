package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	log "log/slog"

	"hark/internal/config"
	"hark/internal/ipc"
	"hark/internal/logging"
	"hark/internal/pipeline"
	"hark/internal/telemetry"
)

type runFlags struct {
	env      string
	mode     string
	source   string
	output   string
	useCase  string
	text     string
	wav      string
	out      string
	noFollow bool
}

func main() {
	os.Exit(run())
}

func defineFlags(fs *cli.FlagSet, cfg *config.Config, rf *runFlags) {
	config.BindFlags(fs, cfg)
	fs.StringVarP(&rf.env, "env", "e", ".env", "Env file path")
	fs.StringVar(&rf.mode, "mode", "audio", "Interaction mode (audio|text)")
	fs.StringVar(&rf.source, "source", "file", "Audio source (file|mic)")
	fs.StringVarP(&rf.output, "output", "o", "play", "Reply output (save|play|both|none)")
	fs.StringVarP(&rf.useCase, "usecase", "u", config.DefaultUseCase, "Use case key")
	fs.StringVarP(&rf.text, "text", "t", "", "Initial text message, #N for a predefined question")
	fs.StringVarP(&rf.wav, "wav", "w", "", "Initial audio file, defaults to the use case sample")
	fs.StringVar(&rf.out, "out", "", "File name for the first saved reply")
	fs.BoolVar(&rf.noFollow, "no-followups", false, "Stop after the first reply")
}

// loadEnv finds --env with a throwaway parse so .env values can become flag
// defaults of the real one.
func loadEnv(args []string) {
	var (
		scratch = config.Default()
		rf      runFlags
	)
	fs := cli.NewFlagSet("env", cli.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	defineFlags(fs, &scratch, &rf)
	_ = fs.Parse(args)

	if err := godotenv.Load(rf.env); err != nil && fs.Changed("env") {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", rf.env, err)
	}
}

func run() int {
	loadEnv(os.Args[1:])

	cfg, err := config.Loader{}.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var rf runFlags
	defineFlags(cli.CommandLine, &cfg, &rf)
	cli.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	opt, err := pipelineOptions(rf, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	started := time.Now()
	logger, logCloser, err := logging.Setup(logging.Options{
		Dir:     cfg.Logging.Dir,
		Level:   config.LogLevels[cfg.Logging.Level],
		Console: cfg.Logging.Console,
	}, started)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup logging:", err)
		return 1
	}
	defer logCloser.Close()
	log.SetDefault(logger)

	logger.Info("Booting up", "usecase", opt.UseCase, "mode", opt.Mode, "output", opt.Output)
	logger.Debug("configuration", cfg.Attrs()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel := telemetry.NewRecorder(logger)
	defer tel.Report()

	app, err := build(ctx, cfg, opt, tel, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		return 1
	}
	defer app.Close()

	p, err := pipeline.New(opt, app.deps)
	if err != nil {
		logger.Error("pipeline setup failed", "err", err)
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if cfg.SocketPath != "" {
		srv, err := ipc.Listen(cfg.SocketPath, control(p, cancel, logger), logger)
		if err != nil {
			logger.Error("control socket failed", "path", cfg.SocketPath, "err", err)
			return 1
		}
		defer srv.Close()
	}

	logger.Info("Boot up - successful", "took", time.Since(started))

	err = p.Run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		logger.Info("run aborted")
		return 0
	case errors.Is(err, pipeline.ErrNoInput):
		logger.Warn("no valid input received, exiting")
		fmt.Fprintln(os.Stderr, "No valid input received.")
		return 1
	}
	logger.Error("run failed", "err", err)
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 1
}

func pipelineOptions(rf runFlags, cfg config.Config) (pipeline.Options, error) {
	mode, err := pipeline.ParseMode(rf.mode)
	if err != nil {
		return pipeline.Options{}, err
	}
	source, err := pipeline.ParseSource(rf.source)
	if err != nil {
		return pipeline.Options{}, err
	}
	output, err := pipeline.ParseOutput(rf.output)
	if err != nil {
		return pipeline.Options{}, err
	}
	if cfg.Synthesis.Engine == "none" && output != pipeline.OutputNone {
		output = pipeline.OutputNone
	}
	return pipeline.Options{
		Mode:       mode,
		Source:     source,
		Output:     output,
		UseCase:    rf.useCase,
		Text:       rf.text,
		WAVPath:    rf.wav,
		OutputFile: rf.out,
		OutputDir:  cfg.Synthesis.OutputDir,
		FollowUps:  !rf.noFollow,
		SampleRate: cfg.Audio.SampleRate,
	}, nil
}

func control(p *pipeline.Pipeline, abort context.CancelFunc, logger *log.Logger) ipc.Handler {
	return func(msg ipc.ControlMessage) ipc.Response {
		switch msg.Cmd {
		case ipc.CmdAbort:
			logger.Info("abort requested over control socket")
			abort()
			return ipc.Response{OK: true}
		case ipc.CmdStatus:
			st := p.Status()
			return ipc.Response{OK: true, Status: &ipc.Status{
				Session: st.Session,
				UseCase: st.UseCase,
				Stage:   string(st.Stage),
				Turns:   st.Turns,
				Uptime:  st.Uptime.Round(time.Second).String(),
			}}
		}
		logger.Warn("Unknown command", "cmd", msg.Cmd)
		return ipc.Response{Error: fmt.Sprintf("unknown command %q", msg.Cmd)}
	}
}
