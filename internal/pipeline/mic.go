package pipeline

import (
	"context"
	log "log/slog"

	"hark/internal/segment"
	"hark/internal/telemetry"
)

type FrameSource interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Stop() error
	Dropped() uint64
}

// Microphone captures one utterance per Listen call. The stream only runs
// while listening.
type Microphone struct {
	src    FrameSource
	seg    *segment.Segmenter
	tel    *telemetry.Recorder
	logger *log.Logger
}

func NewMicrophone(src FrameSource, seg *segment.Segmenter, tel *telemetry.Recorder, logger *log.Logger) *Microphone {
	return &Microphone{src: src, seg: seg, tel: tel, logger: logger.With("component", "mic")}
}

func (m *Microphone) Listen(ctx context.Context) (segment.Utterance, error) {
	frames, err := m.src.Start(ctx)
	if err != nil {
		return segment.Utterance{}, err
	}

	utt, err := m.seg.Segment(ctx, frames)
	if stopErr := m.src.Stop(); stopErr != nil {
		m.logger.Warn("stop capture", "err", stopErr)
	}
	m.tel.Dropped(m.src.Dropped())
	if err != nil {
		return segment.Utterance{}, err
	}

	m.tel.Utterance(utt.Forced)
	m.logger.Info("utterance captured", "duration", utt.Duration(), "forced", utt.Forced)
	return utt, nil
}
