// Package notify tells the user the assistant is listening: an audible cue
// and an optional desktop notification. Failures are logged and never stop
// the conversation.
package notify

import (
	"context"
	log "log/slog"
	"os/exec"
	"time"
)

type Player interface {
	PlayFile(ctx context.Context, path string) error
}

type Notifier struct {
	player  Player
	cue     string
	desktop bool
	logger  *log.Logger

	run func(ctx context.Context, name string, args ...string) error
}

// New returns a Notifier. An empty cue path disables the sound; a nil player
// disables it as well.
func New(player Player, cue string, desktop bool, logger *log.Logger) *Notifier {
	return &Notifier{
		player:  player,
		cue:     cue,
		desktop: desktop,
		logger:  logger.With("component", "notify"),
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Listening plays the cue and raises a "Listening..." notification.
func (n *Notifier) Listening(ctx context.Context) {
	n.Desktop(ctx, "hark", "Listening...")
	if n.cue == "" || n.player == nil {
		return
	}
	if err := n.player.PlayFile(ctx, n.cue); err != nil {
		n.logger.Warn("cue playback failed", "path", n.cue, "err", err)
	}
}

func (n *Notifier) Desktop(ctx context.Context, summary, body string) {
	if !n.desktop {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := n.run(ctx, "notify-send", "--app-name=hark", "--expire-time=3000", summary, body); err != nil {
		n.logger.Debug("desktop notification failed", "err", err)
	}
}
