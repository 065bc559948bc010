package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

var ErrDevice = errors.New("audio device error")

// Init must be called once before any Capture is started, Terminate when
// the process is done with audio.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize: %w", ErrDevice, err)
	}
	return nil
}

func Terminate() error {
	return portaudio.Terminate()
}

type CaptureOptions struct {
	SampleRate  int
	FrameSize   int
	QueueFrames int
}

// Capture reads mono float32 frames from the default input device. Frames are
// handed from the device callback to a single consumer over a bounded channel;
// when the consumer falls behind, frames are dropped and counted.
type Capture struct {
	opt    CaptureOptions
	logger *log.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  chan []float32
	done    chan struct{}
	stopped bool

	dropped   atomic.Uint64
	overflows atomic.Uint64
}

func NewCapture(opt CaptureOptions, logger *log.Logger) (*Capture, error) {
	if opt.SampleRate <= 0 || opt.FrameSize <= 0 {
		return nil, fmt.Errorf("%w: invalid stream shape %d Hz / %d samples", ErrDevice, opt.SampleRate, opt.FrameSize)
	}
	if opt.QueueFrames <= 0 {
		opt.QueueFrames = 1
	}
	return &Capture{
		opt:    opt,
		logger: logger.With("component", "capture"),
	}, nil
}

// Start opens the input stream. The returned channel is closed by Stop, or
// when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) (<-chan []float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil, fmt.Errorf("%w: capture already running", ErrDevice)
	}

	frames := make(chan []float32, c.opt.QueueFrames)
	cb := c.onInput(frames)

	c.dropped.Store(0)
	c.overflows.Store(0)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.opt.SampleRate), c.opt.FrameSize, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: open input stream: %w", ErrDevice, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start input stream: %w", ErrDevice, err)
	}

	done := make(chan struct{})
	c.stream = stream
	c.frames = frames
	c.done = done
	c.stopped = false

	c.logger.Debug("capture started",
		"sample_rate", c.opt.SampleRate,
		"frame_size", c.opt.FrameSize,
		"queue", c.opt.QueueFrames,
	)

	go func() {
		select {
		case <-ctx.Done():
			if err := c.Stop(); err != nil {
				c.logger.Warn("stop on cancel", "err", err)
			}
		case <-done:
		}
	}()

	return frames, nil
}

// Stop halts the stream and closes the frame channel. The device callback is
// guaranteed not to run after the stream is stopped, so closing is safe.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil || c.stopped {
		return nil
	}
	c.stopped = true

	var errs []error
	if err := c.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("%w: stop: %w", ErrDevice, err))
	}
	if err := c.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close: %w", ErrDevice, err))
	}
	close(c.frames)
	close(c.done)
	c.stream = nil

	if n := c.dropped.Load(); n > 0 {
		c.logger.Warn("frames dropped, consumer too slow", "dropped", n)
	}
	if n := c.overflows.Load(); n > 0 {
		c.logger.Warn("input overflow reported by device", "count", n)
	}
	c.logger.Debug("capture stopped")
	return errors.Join(errs...)
}

// onInput copies each device buffer into frames, counting what a full queue
// drops.
func (c *Capture) onInput(frames chan<- []float32) func([]float32, portaudio.StreamCallbackTimeInfo, portaudio.StreamCallbackFlags) {
	return func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags&portaudio.InputOverflow != 0 {
			c.overflows.Add(1)
		}
		frame := make([]float32, len(in))
		copy(frame, in)
		select {
		case frames <- frame:
		default:
			c.dropped.Add(1)
		}
	}
}

func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}
