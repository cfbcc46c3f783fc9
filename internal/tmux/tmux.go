// Package tmux injects text into tmux panes and reads them back.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpi/jackpoint/internal/config"
	"github.com/artpi/jackpoint/internal/session"
)

// ErrNoTmux is returned when the process does not run inside a tmux pane.
var ErrNoTmux = errors.New("not running inside tmux")

const targetFormat = "#{session_name}:#{window_index}.#{pane_index}"

// runFunc executes tmux with args, feeding stdin when non-empty.
type runFunc func(ctx context.Context, stdin string, args ...string) ([]byte, error)

type Client struct {
	bin        string
	socket     string
	enterDelay time.Duration
	log        zerolog.Logger
	run        runFunc
	getenv     func(string) string
}

func NewClient(cfg *config.TmuxConfig, log zerolog.Logger) *Client {
	c := &Client{
		bin:        cfg.Bin,
		socket:     cfg.Socket,
		enterDelay: time.Duration(cfg.EnterDelayMs) * time.Millisecond,
		log:        log.With().Str("component", "tmux").Logger(),
		getenv:     os.Getenv,
	}
	if c.bin == "" {
		c.bin = "tmux"
	}
	c.run = c.exec
	return c
}

func (c *Client) exec(ctx context.Context, stdin string, args ...string) ([]byte, error) {
	if c.socket != "" {
		args = append([]string{"-S", c.socket}, args...)
	}
	cmd := exec.CommandContext(ctx, c.bin, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return output, fmt.Errorf("tmux %s: %w: %s", args[0], err, msg)
		}
		return output, fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return output, nil
}

// CurrentPane resolves $TMUX_PANE to a "session:window.pane" target.
func (c *Client) CurrentPane() (session.Target, error) {
	pane := c.getenv("TMUX_PANE")
	if pane == "" || c.getenv("TMUX") == "" {
		return "", ErrNoTmux
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	output, err := c.run(ctx, "", "display-message", "-p", "-t", pane, targetFormat)
	if err != nil {
		return "", err
	}
	target := strings.TrimSpace(string(output))
	if target == "" {
		return "", ErrNoTmux
	}
	return session.Target(target), nil
}

// Write types text into target followed by Enter. Failures are logged and
// reported as false.
func (c *Client) Write(ctx context.Context, target session.Target, text string) bool {
	text = Sanitize(text)
	if text == "" {
		c.log.Debug().Str("target", string(target)).Msg("Nothing to write after sanitizing")
		return false
	}
	if err := c.SendInput(ctx, target, text, true); err != nil {
		c.log.Warn().Err(err).Str("target", string(target)).Msg("Failed to write to pane")
		return false
	}
	return true
}

// SendInput pastes text through a uniquely named buffer so concurrent sends
// do not collide.
func (c *Client) SendInput(ctx context.Context, target session.Target, text string, enter bool) error {
	buffer := fmt.Sprintf("jpbuf_%d", time.Now().UnixNano())

	if _, err := c.run(ctx, text, "load-buffer", "-b", buffer, "-"); err != nil {
		return fmt.Errorf("failed to load buffer: %w", err)
	}
	_, err := c.run(ctx, "", "paste-buffer", "-d", "-p", "-t", string(target), "-b", buffer)
	if err != nil {
		_, _ = c.run(ctx, "", "delete-buffer", "-b", buffer)
		return fmt.Errorf("failed to paste buffer: %w", err)
	}

	if !enter {
		return nil
	}
	// let the program settle the paste before submitting
	if c.enterDelay > 0 {
		select {
		case <-time.After(c.enterDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.SendKeys(ctx, target, "Enter")
}

func (c *Client) SendKeys(ctx context.Context, target session.Target, keys ...string) error {
	args := append([]string{"send-keys", "-t", string(target)}, keys...)
	_, err := c.run(ctx, "", args...)
	return err
}

// SendInterrupt sends Ctrl-C to a pane
func (c *Client) SendInterrupt(ctx context.Context, target session.Target) error {
	return c.SendKeys(ctx, target, "C-c")
}

func (c *Client) SendEscape(ctx context.Context, target session.Target) error {
	return c.SendKeys(ctx, target, "Escape")
}

// CaptureLastLines returns the last n non-trailing-blank lines of the pane
// without escape sequences.
func (c *Client) CaptureLastLines(ctx context.Context, target session.Target, n int) (string, error) {
	if n <= 0 {
		n = 50
	}
	output, err := c.run(ctx, "", "capture-pane", "-p", "-J", "-t", string(target), "-S", fmt.Sprintf("-%d", n))
	if err != nil {
		return "", fmt.Errorf("failed to capture pane: %w", err)
	}
	return trimToLastNLines(string(output), n), nil
}

func trimToLastNLines(text string, n int) string {
	if n <= 0 || text == "" {
		return text
	}

	trimmed := strings.TrimRight(text, "\n ")
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= n {
		return trimmed
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// Sanitize drops control characters other than newline and tab, normalizes
// line endings and trims surrounding whitespace.
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return '\n'
		case r < 0x20 || r == 0x7f:
			return -1
		case r >= 0x80 && r < 0xa0:
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}
