// Package coordinator runs a wrapped program with the bridge around it: the
// event relay and notifier on the way out, the listener on the way back.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/config"
	"github.com/artpi/jackpoint/internal/hook"
	"github.com/artpi/jackpoint/internal/listener"
	"github.com/artpi/jackpoint/internal/matrix"
	"github.com/artpi/jackpoint/internal/metrics"
	"github.com/artpi/jackpoint/internal/notify"
	"github.com/artpi/jackpoint/internal/relay"
	"github.com/artpi/jackpoint/internal/remote"
	"github.com/artpi/jackpoint/internal/rooms"
	"github.com/artpi/jackpoint/internal/session"
	"github.com/artpi/jackpoint/internal/store"
	"github.com/artpi/jackpoint/internal/tmux"
)

const (
	eventBuffer     = 64
	notifyTimeout   = 15 * time.Second
	shutdownTimeout = 2 * time.Second
)

type Options struct {
	Settings *config.Settings
	// Executable is the jackpoint binary the injected hooks invoke.
	Executable string
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
	// RuntimeDir holds the relay socket. Empty means the system temp dir.
	RuntimeDir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Notifier is what the dispatch loop needs from notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, sess *notify.Session, ev hook.Event) (id.RoomID, bool, error)
	SetTyping(ctx context.Context, sess *notify.Session, typing bool) error
}

type Coordinator struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options) *Coordinator {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Coordinator{
		opts: opts,
		log:  opts.Log.With().Str("component", "coordinator").Logger(),
	}
}

// Run sets up the bridge, runs program to completion and returns its exit
// status. Errors before the program starts are fatal; afterwards the bridge
// only logs.
func (c *Coordinator) Run(ctx context.Context, program string, args []string) (int, error) {
	cfg := c.opts.Settings
	stateDir := cfg.Storage.StateDir

	creds, err := config.LoadCredentials(stateDir)
	if err != nil {
		return 1, err
	}

	st := store.New(stateDir)
	pane := tmux.NewClient(&cfg.Tmux, c.opts.Log)

	cwd, err := os.Getwd()
	if err != nil {
		return 1, fmt.Errorf("failed to get working directory: %w", err)
	}
	identity := session.Detect(pane, cwd)
	sess := notify.NewSession(identity, "", "")
	if info := tmux.ResolveGitInfo(ctx, cwd); info != nil {
		sess.Repo, sess.Branch = info.RepoRoot, info.Branch
	}
	c.log.Info().
		Str("session_key", string(identity.Key())).
		Str("pane", string(identity.Pane)).
		Str("program", program).
		Msg("Starting session")

	mx, err := matrix.Authenticate(ctx, creds, st, c.opts.Log)
	if err != nil {
		return 1, fmt.Errorf("failed to connect to %s: %w", creds.Homeserver, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolver := rooms.New(mx, st, id.UserID(creds.Recipient), c.opts.Log)
	notifier := notify.New(mx, resolver, notify.Options{
		TypingTimeout: time.Duration(cfg.Notify.TypingTimeoutMs) * time.Millisecond,
		ToolUse:       cfg.Notify.ToolUse,
	}, c.opts.Metrics, c.opts.Log)

	events := make(chan hook.Payload, eventBuffer)
	srv := relay.NewServer(c.opts.RuntimeDir, func(p hook.Payload) {
		select {
		case events <- p:
		default:
			c.log.Warn().Str("event", p.EventName).Msg("Event queue full, dropping hook event")
		}
	}, c.opts.Metrics, c.opts.Log)
	addr, err := srv.Start()
	if err != nil {
		return 1, err
	}
	defer srv.Stop()

	// Without a pane nothing can be typed back, and an unscoped listener
	// would deliver into panes other coordinators own.
	if identity.Pane == "" {
		c.log.Info().Msg("Not inside tmux, inbound relay unavailable")
	} else {
		lst := listener.New(mx, st, remote.NewRouter(pane, mx, cfg.Tmux.CaptureLines, c.opts.Log), listener.Options{
			Target:          identity.Pane,
			RefreshInterval: time.Duration(cfg.Listener.RefreshIntervalMs) * time.Millisecond,
			DedupCapacity:   cfg.Listener.DedupCapacity,
			WatchStore:      true,
		}, c.opts.Metrics, c.opts.Log)
		if _, err := lst.Start(ctx); err != nil {
			return 1, fmt.Errorf("failed to start listener: %w", err)
		}
		defer lst.Stop()
	}

	if cfg.Metrics.Listen != "" && c.opts.Metrics != nil {
		go func() {
			if err := c.opts.Metrics.Serve(ctx, cfg.Metrics.Listen, c.log); err != nil {
				c.log.Warn().Err(err).Msg("Metrics endpoint failed")
			}
		}()
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		c.dispatch(ctx, notifier, sess, events)
	}()

	if supportsHooks(program) {
		withSettings, cleanup, err := writeHookSettings("", c.opts.Executable, args)
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to write hook settings, notifications disabled")
		} else {
			defer cleanup()
			args = withSettings
		}
	}

	code, err := runChild(ctx, childSpec{
		program: program,
		args:    args,
		env:     childEnv(os.Environ(), addr, string(identity.Key())),
		stdin:   c.opts.Stdin,
		stdout:  c.opts.Stdout,
		stderr:  c.opts.Stderr,
	})
	c.log.Info().Int("exit_code", code).Msg("Program exited")

	// Stop waits for in-flight hook connections, so every accepted payload
	// is queued before the channel closes.
	srv.Stop()
	close(events)
	select {
	case <-dispatchDone:
	case <-time.After(shutdownTimeout):
		c.log.Warn().Msg("Pending notifications abandoned at exit")
	}
	cancel()
	<-dispatchDone

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := notifier.SetTyping(stopCtx, sess, false); err != nil {
		c.log.Debug().Err(err).Msg("Failed to clear typing indicator")
	}
	return code, err
}

// dispatch turns relay payloads into notifications one at a time until
// events is closed and drained, or ctx is done. Failures are logged and the
// event is skipped.
func (c *Coordinator) dispatch(ctx context.Context, n Notifier, sess *notify.Session, events <-chan hook.Payload) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-events:
			if !ok {
				return
			}
			ev, ok := hook.FromPayload(p)
			if !ok {
				c.log.Debug().Str("event", p.EventName).Msg("Ignoring hook event")
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
			room, existing, err := n.Notify(sendCtx, sess, ev)
			cancel()
			if err != nil {
				c.log.Warn().Err(err).Str("kind", string(ev.Kind())).Msg("Notification skipped")
				continue
			}
			c.log.Debug().
				Str("kind", string(ev.Kind())).
				Str("room_id", room.String()).
				Bool("existing", existing).
				Msg("Hook event handled")
		}
	}
}
