package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/hook"
	"github.com/artpi/jackpoint/internal/notify"
	"github.com/artpi/jackpoint/internal/session"
)

func TestBuildClaudeSettings(t *testing.T) {
	data, err := buildClaudeSettings("/opt/my tools/jackpoint")
	require.NoError(t, err)

	var got claudeSettings
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Hooks, len(hookEvents))
	for _, name := range hookEvents {
		require.Len(t, got.Hooks[name], 1, name)
		cmd := got.Hooks[name][0].Hooks[0]
		assert.Equal(t, "command", cmd.Type)
		assert.Equal(t, "'/opt/my tools/jackpoint' hook", cmd.Command)
		assert.Equal(t, hookTimeoutSeconds, cmd.Timeout)
	}
}

func TestWriteHookSettings(t *testing.T) {
	dir := t.TempDir()
	args, cleanup, err := writeHookSettings(dir, "/bin/jackpoint", []string{"--resume"})
	require.NoError(t, err)

	require.Len(t, args, 3)
	assert.Equal(t, "--settings", args[0])
	assert.Equal(t, "--resume", args[2])
	_, err = os.Stat(args[1])
	require.NoError(t, err)

	cleanup()
	_, err = os.Stat(args[1])
	assert.True(t, os.IsNotExist(err))
}

func TestSupportsHooks(t *testing.T) {
	assert.True(t, supportsHooks("claude"))
	assert.True(t, supportsHooks("/usr/local/bin/claude"))
	assert.False(t, supportsHooks("codex"))
	assert.False(t, supportsHooks("claude-wrapper"))
}

func TestShellEscape(t *testing.T) {
	assert.Equal(t, "''", shellEscape(""))
	assert.Equal(t, "'/bin/jp'", shellEscape("/bin/jp"))
	assert.Equal(t, `'it'"'"'s'`, shellEscape("it's"))
}

func TestChildEnv(t *testing.T) {
	base := []string{"HOME=/home/me", "JACKPOINT_RELAY=/tmp/stale.sock", "JACKPOINT_SESSION_KEY=old", "JACKPOINT_RELAYX=keep"}
	env := childEnv(base, "/tmp/new.sock", "box:work:0.1")
	assert.Equal(t, []string{
		"HOME=/home/me",
		"JACKPOINT_RELAYX=keep",
		"JACKPOINT_RELAY=/tmp/new.sock",
		"JACKPOINT_SESSION_KEY=box:work:0.1",
	}, env)
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestRunChildMirrorsExitCode(t *testing.T) {
	sh := requireShell(t)
	var out bytes.Buffer
	code, err := runChild(context.Background(), childSpec{
		program: sh,
		args:    []string{"-c", `printf "%s" "$JACKPOINT_SESSION_KEY"; exit 3`},
		env:     childEnv(nil, "", "box:work:0.1"),
		stdout:  &out,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "box:work:0.1", out.String())
}

func TestRunChildStartFailure(t *testing.T) {
	code, err := runChild(context.Background(), childSpec{program: "/nonexistent/jackpoint-child"})
	require.Error(t, err)
	assert.Equal(t, 127, code)
}

func TestRunChildTerminatedOnCancel(t *testing.T) {
	sh := requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	code, err := runChild(ctx, childSpec{program: sh, args: []string{"-c", "sleep 10"}})
	require.NoError(t, err)
	assert.Equal(t, 128+15, code)
}

func TestExitCode(t *testing.T) {
	code, err := exitCode(nil)
	assert.NoError(t, err)
	assert.Zero(t, code)

	boom := errors.New("boom")
	code, err = exitCode(boom)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, code)
}

type fakeNotifier struct {
	mu    sync.Mutex
	kinds []hook.Kind
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, _ *notify.Session, ev hook.Event) (id.RoomID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, ev.Kind())
	return "!r:hs", true, f.err
}

func (f *fakeNotifier) SetTyping(context.Context, *notify.Session, bool) error {
	return nil
}

func (f *fakeNotifier) seen() []hook.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hook.Kind(nil), f.kinds...)
}

func TestDispatchConvertsPayloadsInOrder(t *testing.T) {
	c := New(Options{Log: zerolog.Nop()})
	n := &fakeNotifier{err: errors.New("skipped but not fatal")}
	sess := notify.NewSession(session.Identity{Host: "box", Pane: "work:0.1"}, "", "")

	events := make(chan hook.Payload)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.dispatch(ctx, n, sess, events)
	}()

	events <- hook.Payload{EventName: "SessionStart"}
	events <- hook.Payload{EventName: "Bogus"}
	events <- hook.Payload{EventName: "PermissionRequest", ToolName: "Bash"}
	events <- hook.Payload{EventName: "Stop"}
	// unbuffered: the Stop payload has been taken once this send completes
	events <- hook.Payload{EventName: "Bogus"}
	cancel()
	<-done

	assert.Equal(t, []hook.Kind{hook.KindSessionStart, hook.KindPermission, hook.KindStop}, n.seen())
}

func TestDispatchDrainsClosedQueue(t *testing.T) {
	c := New(Options{Log: zerolog.Nop()})
	n := &fakeNotifier{}
	sess := notify.NewSession(session.Identity{Host: "box"}, "", "")

	events := make(chan hook.Payload, 2)
	events <- hook.Payload{EventName: "SessionStart"}
	events <- hook.Payload{EventName: "SessionEnd"}
	close(events)

	c.dispatch(context.Background(), n, sess, events)
	assert.Equal(t, []hook.Kind{hook.KindSessionStart, hook.KindOther}, n.seen())
}
