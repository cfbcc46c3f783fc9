// Package remote interprets chat commands sent from the phone before the
// rest of the text reaches the pane.
package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/listener"
	"github.com/artpi/jackpoint/internal/session"
)

const (
	Prefix          = "!"
	maxCaptureLines = 500
)

// Pane is the terminal side of the router.
type Pane interface {
	Write(ctx context.Context, target session.Target, text string) bool
	CaptureLastLines(ctx context.Context, target session.Target, n int) (string, error)
	SendInterrupt(ctx context.Context, target session.Target) error
	SendEscape(ctx context.Context, target session.Target) error
}

// Replier answers a command in its room.
type Replier interface {
	SendText(ctx context.Context, room id.RoomID, text string) error
}

type Router struct {
	pane         Pane
	reply        Replier
	captureLines int
	log          zerolog.Logger
}

var _ listener.Writer = (*Router)(nil)

func NewRouter(pane Pane, reply Replier, captureLines int, log zerolog.Logger) *Router {
	if captureLines <= 0 {
		captureLines = 50
	}
	return &Router{
		pane:         pane,
		reply:        reply,
		captureLines: captureLines,
		log:          log.With().Str("component", "remote").Logger(),
	}
}

const helpText = "**jackpoint commands**\n" +
	"`!output [N]` last N lines of the terminal\n" +
	"`!interrupt` send Ctrl-C\n" +
	"`!escape` send Escape\n" +
	"`!help` this message\n\n" +
	"Anything else is typed into the terminal."

// Write runs a recognized command or types the body into the pane.
func (r *Router) Write(ctx context.Context, d listener.Delivery) bool {
	name, arg, ok := parseCommand(d.Body)
	if !ok {
		return r.pane.Write(ctx, d.Target, d.Body)
	}

	r.log.Debug().Str("command", name).Str("target", string(d.Target)).Msg("Remote command")
	switch name {
	case "help":
		return r.send(ctx, d.RoomID, helpText)
	case "output":
		return r.output(ctx, d, arg)
	case "interrupt":
		if err := r.pane.SendInterrupt(ctx, d.Target); err != nil {
			r.log.Warn().Err(err).Msg("Failed to send interrupt")
			return false
		}
		return r.send(ctx, d.RoomID, "⛔ Sent Ctrl-C")
	case "escape":
		if err := r.pane.SendEscape(ctx, d.Target); err != nil {
			r.log.Warn().Err(err).Msg("Failed to send escape")
			return false
		}
		return r.send(ctx, d.RoomID, "⎋ Sent Escape")
	}
	return r.pane.Write(ctx, d.Target, d.Body)
}

func (r *Router) output(ctx context.Context, d listener.Delivery, arg string) bool {
	n := r.captureLines
	if v, err := strconv.Atoi(arg); err == nil && v > 0 {
		n = v
	}
	if n > maxCaptureLines {
		n = maxCaptureLines
	}

	text, err := r.pane.CaptureLastLines(ctx, d.Target, n)
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to capture pane")
		r.send(ctx, d.RoomID, "⚠️ Could not read the terminal")
		return false
	}
	if strings.TrimSpace(text) == "" {
		return r.send(ctx, d.RoomID, "(terminal is empty)")
	}
	// fences inside the capture would end the code block early
	text = strings.ReplaceAll(text, "```", "ˋˋˋ")
	return r.send(ctx, d.RoomID, fmt.Sprintf("```\n%s\n```", text))
}

func (r *Router) send(ctx context.Context, room id.RoomID, text string) bool {
	if err := r.reply.SendText(ctx, room, text); err != nil {
		r.log.Warn().Err(err).Msg("Failed to reply to command")
		return false
	}
	return true
}

// parseCommand splits "!name arg" into its lower-cased name and argument.
func parseCommand(body string) (string, string, bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, Prefix) || len(body) == len(Prefix) {
		return "", "", false
	}
	fields := strings.Fields(body[len(Prefix):])
	if len(fields) == 0 {
		return "", "", false
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	return strings.ToLower(fields[0]), arg, true
}
