package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestDecode(t *testing.T) {
	c := NewCodec("", 0)

	tests := []struct {
		name   string
		in     io.Reader
		want   string
		reason string
	}{
		{"plain", strings.NewReader("Hello there. [end of text]\n"), "Hello there.", ""},
		{"split marker", iotest.OneByteReader(strings.NewReader("  Twenty two degrees.\n[end of text]")), "Twenty two degrees.", ""},
		{"trailing output ignored", strings.NewReader("ok[end of text]\nllama_perf_context_print: ..."), "ok", ""},
		{"no marker", strings.NewReader("cut off mid sen"), "", "stream ended before terminal marker"},
		{"empty reply", strings.NewReader(" \n [end of text]"), "", "empty reply"},
		{"bad utf8", strings.NewReader("\xff\xfe[end of text]"), "", "not valid utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.in)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("Decode() returned error: %v", err)
				}
				if got != tt.want {
					t.Fatalf("Decode() = %q, want %q", got, tt.want)
				}
				return
			}
			var pe *ParseError
			if !errors.As(err, &pe) || !strings.Contains(pe.Reason, tt.reason) {
				t.Fatalf("expected ParseError %q, got %v", tt.reason, err)
			}
		})
	}
}

func TestDecodePartial(t *testing.T) {
	_, err := NewCodec("", 0).Decode(strings.NewReader("half an answer"))
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Partial != "half an answer" {
		t.Fatalf("expected partial text, got %v", err)
	}
}

func TestDecodeLimit(t *testing.T) {
	c := NewCodec("<END>", 16)
	_, err := c.Decode(strings.NewReader(strings.Repeat("a", 64) + "<END>"))
	var pe *ParseError
	if !errors.As(err, &pe) || !strings.Contains(pe.Reason, "exceeds 16 bytes") {
		t.Fatalf("expected limit ParseError, got %v", err)
	}
}

func TestDecodeReadError(t *testing.T) {
	boom := errors.New("pipe closed")
	_, err := NewCodec("", 0).Decode(iotest.ErrReader(boom))
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		t.Fatal("read failure must not be a ParseError")
	}
}

func TestEncode(t *testing.T) {
	c := NewCodec("", 0)

	var buf bytes.Buffer
	if err := c.Encode(&buf, Request{Prompt: "hello\n\n"}); err != nil {
		t.Fatalf("Encode() returned error: %v", err)
	}
	if buf.String() != "hello\n" {
		t.Fatalf("unexpected frame %q", buf.String())
	}

	for _, p := range []string{"", "  \n", "say [end of text] now", "\xff"} {
		if err := c.Encode(io.Discard, Request{Prompt: p}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Encode(%q) = %v, want ErrInvalidRequest", p, err)
		}
	}
}
