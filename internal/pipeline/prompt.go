package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"hark/internal/usecase"
)

// Prompter reads answers line by line from the terminal. One goroutine owns
// the scanner; a line that arrives after an Ask was abandoned goes to the next
// Ask.
type Prompter struct {
	in   *bufio.Scanner
	out  io.Writer
	once sync.Once
	ch   chan string
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out, ch: make(chan string)}
}

func (p *Prompter) read() {
	for p.in.Scan() {
		p.ch <- strings.TrimSpace(p.in.Text())
	}
	close(p.ch)
}

// Ask prints question and returns the trimmed answer. ok is false on EOF.
// A pending read is abandoned when ctx ends.
func (p *Prompter) Ask(ctx context.Context, question string) (string, bool) {
	if question != "" {
		fmt.Fprint(p.out, question)
	}
	p.once.Do(func() { go p.read() })

	select {
	case <-ctx.Done():
		return "", false
	case text, ok := <-p.ch:
		return text, ok
	}
}

// Resolve maps "#N" to seed question N of profile and returns other text
// unchanged.
func Resolve(profile usecase.Profile, text string) (string, error) {
	ref, ok := strings.CutPrefix(strings.TrimSpace(text), "#")
	if !ok {
		return text, nil
	}
	n, err := strconv.Atoi(ref)
	if err != nil {
		return "", fmt.Errorf("bad question reference %q", text)
	}
	q, ok := profile.Question(n)
	if !ok {
		return "", fmt.Errorf("use case %s has no question %d (1-%d)", profile.Key, n, len(profile.Questions))
	}
	return q, nil
}

func (p *Prompter) listQuestions(profile usecase.Profile) {
	if len(profile.Questions) == 0 {
		return
	}
	fmt.Fprintln(p.out, "\nAvailable questions:")
	for i, q := range profile.Questions {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, q)
	}
}
