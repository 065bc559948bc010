// Package telemetry counts what the pipeline did during a run and reports
// real-time factors for transcription and synthesis.
package telemetry

import (
	log "log/slog"
	"sync/atomic"
	"time"
)

type Stage string

const (
	Transcription Stage = "transcription"
	Chat          Stage = "chat"
	Synthesis     Stage = "synthesis"
)

// Recorder is safe for concurrent use. A nil Recorder records nothing.
type Recorder struct {
	log *log.Logger

	utterances atomic.Uint64
	forced     atomic.Uint64
	noSpeech   atomic.Uint64
	dropped    atomic.Uint64
	turns      atomic.Uint64
	completed  atomic.Uint64

	stages map[Stage]*stage
}

type stage struct {
	calls  atomic.Uint64
	errors atomic.Uint64
	busy   atomic.Int64 // ns spent processing
	audio  atomic.Int64 // ns of audio consumed or produced
}

type StageSnapshot struct {
	Calls  uint64
	Errors uint64
	Busy   time.Duration
	Audio  time.Duration
}

// RTF is processing time over audio time; zero when no audio was handled.
func (s StageSnapshot) RTF() float64 {
	if s.Audio <= 0 {
		return 0
	}
	return s.Busy.Seconds() / s.Audio.Seconds()
}

func (s StageSnapshot) MeanLatency() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.Busy / time.Duration(s.Calls)
}

type Snapshot struct {
	Utterances    uint64
	Forced        uint64
	NoSpeech      uint64
	DroppedFrames uint64
	Turns         uint64
	Completed     uint64
	Stages        map[Stage]StageSnapshot
}

func NewRecorder(logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry"),
		stages: map[Stage]*stage{
			Transcription: {},
			Chat:          {},
			Synthesis:     {},
		},
	}
}

func (r *Recorder) Utterance(forced bool) {
	if r == nil {
		return
	}
	r.utterances.Add(1)
	if forced {
		r.forced.Add(1)
	}
}

func (r *Recorder) NoSpeech() {
	if r == nil {
		return
	}
	r.noSpeech.Add(1)
}

func (r *Recorder) Dropped(frames uint64) {
	if r == nil || frames == 0 {
		return
	}
	r.dropped.Add(frames)
}

func (r *Recorder) Turn(complete bool) {
	if r == nil {
		return
	}
	r.turns.Add(1)
	if complete {
		r.completed.Add(1)
	}
}

// Observe records one call of a stage. audio is the duration of the input
// (transcription) or output (synthesis) audio and zero for chat.
func (r *Recorder) Observe(s Stage, took, audio time.Duration, err error) {
	if r == nil {
		return
	}
	st, ok := r.stages[s]
	if !ok {
		return
	}
	st.calls.Add(1)
	if err != nil {
		st.errors.Add(1)
		return
	}
	st.busy.Add(int64(took))
	st.audio.Add(int64(audio))
}

func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Utterances:    r.utterances.Load(),
		Forced:        r.forced.Load(),
		NoSpeech:      r.noSpeech.Load(),
		DroppedFrames: r.dropped.Load(),
		Turns:         r.turns.Load(),
		Completed:     r.completed.Load(),
		Stages:        make(map[Stage]StageSnapshot, len(r.stages)),
	}
	for name, st := range r.stages {
		snap.Stages[name] = StageSnapshot{
			Calls:  st.calls.Load(),
			Errors: st.errors.Load(),
			Busy:   time.Duration(st.busy.Load()),
			Audio:  time.Duration(st.audio.Load()),
		}
	}
	return snap
}

// Report logs the run summary.
func (r *Recorder) Report() {
	if r == nil {
		return
	}
	snap := r.Snapshot()
	args := []any{
		"utterances", snap.Utterances,
		"forced", snap.Forced,
		"no_speech", snap.NoSpeech,
		"dropped_frames", snap.DroppedFrames,
		"turns", snap.Turns,
		"completed", snap.Completed,
	}
	for _, name := range []Stage{Transcription, Chat, Synthesis} {
		st := snap.Stages[name]
		if st.Calls == 0 {
			continue
		}
		group := []any{
			"calls", st.Calls,
			"errors", st.Errors,
			"mean", st.MeanLatency().Round(time.Millisecond),
		}
		if name != Chat {
			group = append(group, "rtf", st.RTF())
		}
		args = append(args, log.Group(string(name), group...))
	}
	r.log.Info("run summary", args...)
}
