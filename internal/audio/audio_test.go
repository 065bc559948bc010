package audio

import (
	"context"
	"errors"
	"io"
	log "log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

const sinkInputs = `Sink Input #41
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
		media.name = "Playback"

Sink Input #57
	Volume: front-left: 39322 /  60% / -13.31 dB
	Properties:
		application.name = "hark"

Sink Input #bogus
	Volume: front-left: 1 / 1% / 0 dB
`

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(sinkInputs)
	want := []sinkInput{
		{ID: 41, Volume: 100, AppName: "Firefox"},
		{ID: 57, Volume: 60, AppName: "hark"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d inputs, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("input %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if parseSinkInputs("") != nil {
		t.Error("empty output must yield no inputs")
	}
}

type fakePactl struct {
	listing string
	sets    []string
	fail    error
}

func (f *fakePactl) run(_ context.Context, args ...string) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if args[0] == "list" {
		return []byte(f.listing), nil
	}
	f.sets = append(f.sets, strings.Join(args[1:], " "))
	return nil, nil
}

func TestDuckAndRestore(t *testing.T) {
	fake := &fakePactl{listing: sinkInputs}
	d := NewDucker([]string{"hark"}, 20).WithRunner(fake.run)

	if err := d.Duck(context.Background(), 0.1, 0); err != nil {
		t.Fatalf("Duck() returned error: %v", err)
	}
	if !d.Active() {
		t.Fatal("ducker must be active after Duck")
	}
	// 100% * 0.1 = 10%, raised to the 20% floor; hark's own stream untouched
	if len(fake.sets) != 1 || fake.sets[0] != "41 20%" {
		t.Fatalf("unexpected volume changes: %v", fake.sets)
	}

	// a second Duck is a no-op
	if err := d.Duck(context.Background(), 0.1, 0); err != nil || len(fake.sets) != 1 {
		t.Fatalf("second Duck must not touch volumes, got %v (%v)", fake.sets, err)
	}

	fake.sets = nil
	fake.listing = strings.Replace(sinkInputs, "100%", "20%", 1)
	if err := d.Restore(context.Background(), 0); err != nil {
		t.Fatalf("Restore() returned error: %v", err)
	}
	if len(fake.sets) != 1 || fake.sets[0] != "41 100%" {
		t.Fatalf("unexpected volume changes: %v", fake.sets)
	}
	if d.Active() {
		t.Fatal("ducker must be inactive after Restore")
	}
}

func TestDuckFadeSteps(t *testing.T) {
	fake := &fakePactl{listing: sinkInputs}
	d := NewDucker([]string{"hark"}, 0).WithRunner(fake.run)

	if err := d.Duck(context.Background(), 0.5, 20*time.Millisecond); err != nil {
		t.Fatalf("Duck() returned error: %v", err)
	}
	// 20ms fade in 10ms steps: 100, 75, 50
	want := []string{"41 100%", "41 75%", "41 50%"}
	if strings.Join(fake.sets, ",") != strings.Join(want, ",") {
		t.Fatalf("fade steps = %v, want %v", fake.sets, want)
	}
}

func TestDuckPactlFailure(t *testing.T) {
	fake := &fakePactl{fail: errors.New("pactl: not found")}
	d := NewDucker(nil, 0).WithRunner(fake.run)
	if err := d.Duck(context.Background(), 0.5, 0); err == nil {
		t.Fatal("expected error when pactl fails")
	}
	if d.Active() {
		t.Fatal("failed Duck must leave the ducker inactive")
	}
}

func TestPCMStreamer(t *testing.T) {
	s := pcmStreamer([]float32{0.5, -0.5, 1})
	buf := make([][2]float64, 2)

	n, ok := s.Stream(buf)
	if n != 2 || !ok {
		t.Fatalf("first read = %d, %v", n, ok)
	}
	if buf[0] != [2]float64{0.5, 0.5} || buf[1] != [2]float64{-0.5, -0.5} {
		t.Fatalf("unexpected frames %v", buf)
	}

	n, ok = s.Stream(buf)
	if n != 1 || !ok || buf[0][1] != 1 {
		t.Fatalf("second read = %d, %v, %v", n, ok, buf)
	}
	if n, ok = s.Stream(buf); n != 0 || ok {
		t.Fatalf("drained streamer returned %d, %v", n, ok)
	}
}

func TestNewCaptureValidation(t *testing.T) {
	logger := log.New(log.NewTextHandler(io.Discard, nil))
	if _, err := NewCapture(CaptureOptions{SampleRate: 0, FrameSize: 512}, logger); !errors.Is(err, ErrDevice) {
		t.Fatalf("expected ErrDevice, got %v", err)
	}
	c, err := NewCapture(CaptureOptions{SampleRate: 16000, FrameSize: 512}, logger)
	if err != nil {
		t.Fatalf("NewCapture() returned error: %v", err)
	}
	if c.opt.QueueFrames != 1 {
		t.Errorf("queue must default to one frame, got %d", c.opt.QueueFrames)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() on an idle capture returned %v", err)
	}
}

func TestCaptureCountsDrops(t *testing.T) {
	logger := log.New(log.NewTextHandler(io.Discard, nil))
	c, err := NewCapture(CaptureOptions{SampleRate: 16000, FrameSize: 4, QueueFrames: 1}, logger)
	if err != nil {
		t.Fatalf("NewCapture() returned error: %v", err)
	}

	frames := make(chan []float32, 1)
	cb := c.onInput(frames)
	buf := []float32{0.1, 0.2, 0.3, 0.4}
	cb(buf, portaudio.StreamCallbackTimeInfo{}, 0)
	cb(buf, portaudio.StreamCallbackTimeInfo{}, portaudio.InputOverflow)

	if got := c.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	if got := c.overflows.Load(); got != 1 {
		t.Fatalf("overflows = %d, want 1", got)
	}
	frame := <-frames
	buf[0] = 9
	if frame[0] != 0.1 {
		t.Fatal("queued frame aliases the device buffer")
	}
}

func TestCaptureStartResetsCounters(t *testing.T) {
	logger := log.New(log.NewTextHandler(io.Discard, nil))
	c, err := NewCapture(CaptureOptions{SampleRate: 16000, FrameSize: 512}, logger)
	if err != nil {
		t.Fatalf("NewCapture() returned error: %v", err)
	}
	c.dropped.Store(7)
	c.overflows.Store(3)

	// portaudio is not initialized here, so opening the stream fails after
	// the counters are reset.
	if _, err := c.Start(context.Background()); !errors.Is(err, ErrDevice) {
		t.Fatalf("expected ErrDevice, got %v", err)
	}
	if c.Dropped() != 0 || c.overflows.Load() != 0 {
		t.Fatalf("counters not reset: dropped %d, overflows %d", c.Dropped(), c.overflows.Load())
	}
}
