// Package protocol frames the exchange with a command-line inference process:
// one request is written, the reply is read until a terminal marker and parsed
// into text or a *ParseError.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	DefaultTerminal = "[end of text]"
	DefaultLimit    = 1 << 20
)

var ErrInvalidRequest = errors.New("protocol: invalid request")

// ParseError reports a reply that could not be framed. Partial holds what was
// read before the failure.
type ParseError struct {
	Reason  string
	Partial string
}

func (e *ParseError) Error() string {
	return "protocol: " + e.Reason
}

type Request struct {
	Prompt string
}

type Codec struct {
	Terminal string
	Limit    int
}

func NewCodec(terminal string, limit int) Codec {
	if terminal == "" {
		terminal = DefaultTerminal
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return Codec{Terminal: terminal, Limit: limit}
}

func (c Codec) terminal() string {
	if c.Terminal == "" {
		return DefaultTerminal
	}
	return c.Terminal
}

func (c Codec) limit() int {
	if c.Limit <= 0 {
		return DefaultLimit
	}
	return c.Limit
}

// Encode writes the request followed by a single newline. A prompt that
// contains the terminal marker could end its own reply early and is refused.
func (c Codec) Encode(w io.Writer, req Request) error {
	p := strings.TrimRight(req.Prompt, "\n")
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	if !utf8.ValidString(p) {
		return fmt.Errorf("%w: prompt is not valid utf-8", ErrInvalidRequest)
	}
	if strings.Contains(p, c.terminal()) {
		return fmt.Errorf("%w: prompt contains terminal marker %q", ErrInvalidRequest, c.terminal())
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(p); err != nil {
		return fmt.Errorf("protocol: write request: %w", err)
	}
	if err := bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("protocol: write request: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("protocol: write request: %w", err)
	}
	return nil
}

// Decode reads until the terminal marker and returns the trimmed text before
// it. Anything after the marker is left unread.
func (c Codec) Decode(r io.Reader) (string, error) {
	term := []byte(c.terminal())
	limit := c.limit()

	var (
		buf   bytes.Buffer
		chunk = make([]byte, 4096)
	)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			// rescan only the region that can hold a marker crossing the chunk edge
			from := max(0, buf.Len()-len(term)+1)
			buf.Write(chunk[:n])

			end := bytes.Index(buf.Bytes()[from:], term)
			if end >= 0 {
				end += from
			}
			if end >= 0 && end <= limit {
				return c.parse(buf.Bytes()[:end])
			}
			if end > limit || buf.Len() > limit {
				return "", &ParseError{
					Reason:  fmt.Sprintf("reply exceeds %d bytes without terminal marker", limit),
					Partial: tail(buf.String()),
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return "", &ParseError{Reason: "stream ended before terminal marker", Partial: tail(buf.String())}
		}
		if err != nil {
			return "", fmt.Errorf("protocol: read reply: %w", err)
		}
	}
}

func (c Codec) parse(body []byte) (string, error) {
	if !utf8.Valid(body) {
		return "", &ParseError{Reason: "reply is not valid utf-8"}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", &ParseError{Reason: "empty reply"}
	}
	return text, nil
}

func tail(s string) string {
	const keep = 256
	if len(s) <= keep {
		return s
	}
	return s[len(s)-keep:]
}
