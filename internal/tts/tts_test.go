package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	log "log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"hark/pkg/audioconv"
)

func quiet() *log.Logger {
	return log.New(log.NewTextHandler(io.Discard, nil))
}

func TestSaveWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reply.wav")
	in := PCM{Samples: []float32{0, 0.5, -0.5, 1}, SampleRate: 16000}

	if err := SaveWAV(path, in); err != nil {
		t.Fatalf("SaveWAV() returned error: %v", err)
	}

	got, err := audioconv.DecodeFile(context.Background(), path, audioconv.Options{SampleRate: 16000})
	if err != nil {
		t.Fatalf("decode saved file: %v", err)
	}
	if len(got) != len(in.Samples) {
		t.Fatalf("expected %d samples, got %d", len(in.Samples), len(got))
	}
	for i := range got {
		if math.Abs(float64(got[i]-in.Samples[i])) > 1e-3 {
			t.Errorf("sample %d = %f, want %f", i, got[i], in.Samples[i])
		}
	}
}

func TestSaveWAVRejectsBadRate(t *testing.T) {
	if err := SaveWAV(filepath.Join(t.TempDir(), "x.wav"), PCM{Samples: []float32{0}}); err == nil {
		t.Fatal("zero sample rate accepted")
	}
}

func TestPCMDuration(t *testing.T) {
	if d := (PCM{Samples: make([]float32, 8000), SampleRate: 16000}).Duration(); d.Milliseconds() != 500 {
		t.Fatalf("duration = %v, want 500ms", d)
	}
	if d := (PCM{Samples: make([]float32, 10)}).Duration(); d != 0 {
		t.Fatalf("duration without rate = %v", d)
	}
}

func TestChainFallsBack(t *testing.T) {
	first := FailingMock(errors.New("piper missing"))
	second := NewMock()
	c, err := NewChain(quiet(), first, second)
	if err != nil {
		t.Fatal(err)
	}

	pcm, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize() returned error: %v", err)
	}
	if len(pcm.Samples) != 5*160 {
		t.Errorf("unexpected sample count %d", len(pcm.Samples))
	}
	if len(first.Calls()) != 1 || len(second.Calls()) != 1 {
		t.Errorf("each synthesizer must be tried once, got %d and %d", len(first.Calls()), len(second.Calls()))
	}
}

func TestChainAllFail(t *testing.T) {
	c, _ := NewChain(quiet(), FailingMock(errors.New("a")), FailingMock(errors.New("b")))
	_, err := c.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") {
		t.Errorf("both causes must be reported: %v", err)
	}

	if _, err := NewChain(quiet()); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("empty chain accepted: %v", err)
	}
}

func TestVoiceRate(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "en_US-amy-medium.onnx")
	if err := os.WriteFile(model+".json", []byte(`{"audio": {"sample_rate": 16000, "quality": "medium"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if p := NewPiper("piper", model, quiet()); p.rate != 16000 {
		t.Errorf("rate from sidecar = %d, want 16000", p.rate)
	}
	if p := NewPiper("piper", filepath.Join(dir, "missing.onnx"), quiet()); p.rate != DefaultPiperRate {
		t.Errorf("rate without sidecar = %d, want %d", p.rate, DefaultPiperRate)
	}
}

// helperCommand runs this test binary as a fake piper.
func helperCommand(mode string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "HARK_HELPER_PROCESS=1", "HARK_HELPER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("HARK_HELPER_PROCESS") != "1" {
		return
	}
	in, _ := io.ReadAll(os.Stdin)
	switch os.Getenv("HARK_HELPER_MODE") {
	case "ok":
		if string(in) != "Hello there.\n" {
			os.Exit(3)
		}
		binary.Write(os.Stdout, binary.LittleEndian, []int16{0, 16384, -16384})
		os.Exit(0)
	case "fail":
		io.WriteString(os.Stderr, "unable to load voice")
		os.Exit(1)
	}
	os.Exit(2)
}

func TestPiperSynthesize(t *testing.T) {
	p := NewPiper("piper", "voice.onnx", quiet())
	p.command = helperCommand("ok")

	pcm, err := p.Synthesize(context.Background(), "  Hello there.  ")
	if err != nil {
		t.Fatalf("Synthesize() returned error: %v", err)
	}
	if pcm.SampleRate != DefaultPiperRate {
		t.Errorf("rate = %d", pcm.SampleRate)
	}
	want := []float32{0, 0.5, -0.5}
	if len(pcm.Samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(pcm.Samples))
	}
	for i := range want {
		if pcm.Samples[i] != want[i] {
			t.Errorf("sample %d = %f, want %f", i, pcm.Samples[i], want[i])
		}
	}
}

func TestPiperFailure(t *testing.T) {
	p := NewPiper("piper", "voice.onnx", quiet())
	p.command = helperCommand("fail")

	_, err := p.Synthesize(context.Background(), "Hello there.")
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if !strings.Contains(err.Error(), "unable to load voice") {
		t.Errorf("stderr not surfaced: %v", err)
	}

	if _, err := p.Synthesize(context.Background(), "   "); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("empty text accepted: %v", err)
	}
}
