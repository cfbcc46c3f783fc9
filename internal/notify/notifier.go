// Package notify turns hook events into messages in the session's room and
// keeps the typing indicator in step with the agent's busy state.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/hook"
	"github.com/artpi/jackpoint/internal/metrics"
	"github.com/artpi/jackpoint/internal/session"
)

// Service is the part of the messaging service the notifier needs.
type Service interface {
	SendText(ctx context.Context, room id.RoomID, text string) error
	SetTyping(ctx context.Context, room id.RoomID, typing bool, timeout time.Duration) error
}

// Resolver maps a session key to its room.
type Resolver interface {
	Resolve(ctx context.Context, key session.Key, hint string) (id.RoomID, bool, error)
}

// Session is the context of one wrapped program. The room it was last
// routed to lives here rather than in process-wide state.
type Session struct {
	Identity session.Identity
	Repo     string
	Branch   string

	mu   sync.Mutex
	room id.RoomID
}

func NewSession(identity session.Identity, repo, branch string) *Session {
	return &Session{Identity: identity, Repo: repo, Branch: branch}
}

// Room is the last room resolved for the session, or "" before any.
func (s *Session) Room() id.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setRoom(room id.RoomID) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

type Options struct {
	TypingTimeout time.Duration
	// ToolUse sends a message for tool-use events; otherwise they only
	// refresh the typing indicator.
	ToolUse bool
}

type Notifier struct {
	svc      Service
	resolver Resolver
	opts     Options
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func New(svc Service, resolver Resolver, opts Options, m *metrics.Metrics, log zerolog.Logger) *Notifier {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = 2 * time.Minute
	}
	return &Notifier{
		svc:      svc,
		resolver: resolver,
		opts:     opts,
		metrics:  m,
		log:      log.With().Str("component", "notify").Logger(),
	}
}

// Notify resolves the session's room, sends the rendered event and then
// applies the event's typing change. Typing failures are logged only.
func (n *Notifier) Notify(ctx context.Context, sess *Session, ev hook.Event) (id.RoomID, bool, error) {
	kind := string(ev.Kind())

	if ev.Kind() == hook.KindToolUse && !n.opts.ToolUse {
		n.applyTyping(ctx, sess, ev.Typing())
		n.metrics.Notification(kind, "typing_only")
		room := sess.Room()
		return room, room != "", nil
	}

	room, existing, err := n.resolver.Resolve(ctx, sess.Identity.Key(), sess.Identity.DisplayName())
	if err != nil {
		n.metrics.Notification(kind, "error")
		return "", false, err
	}
	sess.setRoom(room)

	text := ev.Render(hook.RenderContext{
		Existing: existing,
		Host:     sess.Identity.Host,
		Pane:     string(sess.Identity.Pane),
		Dir:      sess.Identity.Cwd,
		Repo:     sess.Repo,
		Branch:   sess.Branch,
	})
	if err := n.svc.SendText(ctx, room, text); err != nil {
		n.metrics.Notification(kind, "error")
		return room, existing, fmt.Errorf("failed to send %s notification: %w", kind, err)
	}
	n.metrics.Notification(kind, "sent")
	n.log.Debug().Str("kind", kind).Str("room_id", room.String()).Msg("Notification sent")

	n.applyTyping(ctx, sess, ev.Typing())
	return room, existing, nil
}

func (n *Notifier) applyTyping(ctx context.Context, sess *Session, t hook.Typing) {
	var typing bool
	switch t {
	case hook.TypingOn:
		typing = true
	case hook.TypingOff:
		typing = false
	default:
		return
	}
	if err := n.SetTyping(ctx, sess, typing); err != nil {
		n.log.Debug().Err(err).Bool("typing", typing).Msg("Failed to update typing indicator")
	}
}

// SetTyping updates the indicator in the session's room. Before any room
// has been resolved it does nothing.
func (n *Notifier) SetTyping(ctx context.Context, sess *Session, typing bool) error {
	room := sess.Room()
	if room == "" {
		return nil
	}
	timeout := n.opts.TypingTimeout
	if !typing {
		timeout = 0
	}
	return n.svc.SetTyping(ctx, room, typing, timeout)
}
