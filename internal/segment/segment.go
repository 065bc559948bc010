// Package segment cuts one utterance out of a stream of audio frames using VAD
// start and end events, padding the span and capping its length.
package segment

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"hark/internal/vad"
)

var (
	ErrNoSpeech = errors.New("segment: no speech detected")
	ErrDetector = errors.New("segment: detector failed")
)

// Detector is fed every frame in arrival order. Event offsets are ignored: the
// span is taken from the buffer length at the frame that produced the event.
type Detector interface {
	Detect(frame []float32) (vad.Event, error)
	Reset()
}

type Options struct {
	SampleRate int
	MaxSpeech  time.Duration
}

// Span is a half-open sample range inside the attempt buffer.
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int { return s.End - s.Start }

type Utterance struct {
	Samples    []float32
	Span       Span
	Raw        Span
	SampleRate int
	// Forced is set when the recording hit the length cap or the stream closed
	// before an end event.
	Forced bool
}

func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

type state int

const (
	idle state = iota
	recording
)

type Segmenter struct {
	det    Detector
	opt    Options
	logger *log.Logger
}

func New(det Detector, opt Options, logger *log.Logger) (*Segmenter, error) {
	if det == nil {
		return nil, errors.New("segment: nil detector")
	}
	if opt.SampleRate <= 0 {
		return nil, fmt.Errorf("segment: invalid sample rate %d", opt.SampleRate)
	}
	if opt.MaxSpeech <= 0 {
		return nil, fmt.Errorf("segment: invalid max speech %s", opt.MaxSpeech)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Segmenter{det: det, opt: opt, logger: logger.With("component", "segment")}, nil
}

// Segment consumes frames until one utterance is complete. The buffer holds
// every frame of the attempt, including the leading silence, so padding is
// applied to offsets from the first frame.
func (s *Segmenter) Segment(ctx context.Context, frames <-chan []float32) (Utterance, error) {
	s.det.Reset()

	var (
		buf      []float32
		st       = idle
		rawStart int
		maxSecs  = s.opt.MaxSpeech.Seconds()
	)

	for {
		var (
			frame []float32
			ok    bool
		)
		select {
		case <-ctx.Done():
			return Utterance{}, ctx.Err()
		case frame, ok = <-frames:
		}

		if !ok {
			if st == recording {
				s.logger.Warn("stream closed while recording, closing segment", "samples", len(buf))
				return s.cut(buf, rawStart, len(buf), true), nil
			}
			return Utterance{}, ErrNoSpeech
		}

		if len(frame) == 0 {
			s.logger.Warn("empty audio frame, skipping")
			continue
		}

		ev, err := s.det.Detect(frame)
		buf = append(buf, frame...)
		if err != nil {
			return Utterance{}, fmt.Errorf("%w: %w", ErrDetector, err)
		}

		switch {
		case ev.Kind == vad.Start && st == idle:
			st = recording
			rawStart = len(buf) - len(frame)
			s.logger.Info("speech started", "sample", rawStart)
		case ev.Kind == vad.End && st == recording:
			s.logger.Info("speech ended", "sample", len(buf))
			return s.cut(buf, rawStart, len(buf), false), nil
		}

		if st == recording && float64(len(buf))/float64(s.opt.SampleRate) > maxSecs {
			s.logger.Warn("max speech duration reached, closing segment", "max", s.opt.MaxSpeech)
			return s.cut(buf, rawStart, len(buf), true), nil
		}
	}
}

func (s *Segmenter) cut(buf []float32, rawStart, rawEnd int, forced bool) Utterance {
	raw := Span{Start: rawStart, End: rawEnd}
	span := Pad(raw, len(buf))
	u := Utterance{
		Samples:    buf[span.Start:span.End],
		Span:       span,
		Raw:        raw,
		SampleRate: s.opt.SampleRate,
		Forced:     forced,
	}
	s.logger.Debug("segment cut", "start", span.Start, "end", span.End, "duration", u.Duration())
	return u
}

// Pad widens a raw span by 10% on both sides, relative to offset zero, and
// clamps it to the buffer.
func Pad(raw Span, n int) Span {
	start := max(0, raw.Start*9/10)
	end := min(n, raw.End*11/10)
	if start > end {
		start = end
	}
	return Span{Start: start, End: end}
}
