package pipeline

import (
	"fmt"
	"strings"
)

type Mode int

const (
	AudioMode Mode = iota
	TextMode
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "1", "":
		return AudioMode, nil
	case "text", "2":
		return TextMode, nil
	}
	return 0, fmt.Errorf("unknown interaction mode %q (audio|text)", s)
}

func (m Mode) String() string {
	if m == TextMode {
		return "text"
	}
	return "audio"
}

type Source int

const (
	FileSource Source = iota
	MicSource
)

func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "wav", "1", "":
		return FileSource, nil
	case "mic", "microphone", "2":
		return MicSource, nil
	}
	return 0, fmt.Errorf("unknown audio source %q (file|mic)", s)
}

func (s Source) String() string {
	if s == MicSource {
		return "mic"
	}
	return "file"
}

type Output int

const (
	OutputNone Output = iota
	OutputSave
	OutputPlay
	OutputBoth
)

// ParseOutput accepts names and the menu numbers 1-4 of the interactive
// prompt; anything unrecognized is an error rather than a silent default.
func ParseOutput(s string) (Output, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "save", "1":
		return OutputSave, nil
	case "play", "2":
		return OutputPlay, nil
	case "both", "3":
		return OutputBoth, nil
	case "none", "4", "":
		return OutputNone, nil
	}
	return 0, fmt.Errorf("unknown output mode %q (save|play|both|none)", s)
}

func (o Output) String() string {
	switch o {
	case OutputSave:
		return "save"
	case OutputPlay:
		return "play"
	case OutputBoth:
		return "both"
	}
	return "none"
}

func (o Output) saves() bool { return o == OutputSave || o == OutputBoth }

// Options fix how one conversation is driven. They do not change once the
// run has started.
type Options struct {
	Mode    Mode
	Source  Source
	Output  Output
	UseCase string

	// Text is the initial message in text mode; empty prompts for it.
	Text string
	// WAVPath is the initial audio file; empty uses the use case default.
	WAVPath string
	// OutputFile names the first saved reply; later replies are numbered.
	OutputFile string
	OutputDir  string

	FollowUps  bool
	SampleRate int
}
