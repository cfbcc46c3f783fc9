package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/listener"
	"github.com/artpi/jackpoint/internal/session"
)

type fakePane struct {
	written    []string
	captured   []int
	interrupts int
	escapes    int
	screen     string
	captureErr error
}

func (f *fakePane) Write(_ context.Context, _ session.Target, text string) bool {
	f.written = append(f.written, text)
	return true
}

func (f *fakePane) CaptureLastLines(_ context.Context, _ session.Target, n int) (string, error) {
	f.captured = append(f.captured, n)
	return f.screen, f.captureErr
}

func (f *fakePane) SendInterrupt(context.Context, session.Target) error {
	f.interrupts++
	return nil
}

func (f *fakePane) SendEscape(context.Context, session.Target) error {
	f.escapes++
	return nil
}

type fakeReplier struct {
	rooms   []id.RoomID
	replies []string
}

func (f *fakeReplier) SendText(_ context.Context, room id.RoomID, text string) error {
	f.rooms = append(f.rooms, room)
	f.replies = append(f.replies, text)
	return nil
}

func delivery(body string) listener.Delivery {
	return listener.Delivery{Target: "work:0.1", RoomID: "!r:hs", SessionKey: "box:work:0.1", Body: body}
}

func newRouter() (*Router, *fakePane, *fakeReplier) {
	pane := &fakePane{screen: "$ make\nok"}
	reply := &fakeReplier{}
	return NewRouter(pane, reply, 50, zerolog.Nop()), pane, reply
}

func TestPlainTextGoesToPane(t *testing.T) {
	r, pane, reply := newRouter()
	assert.True(t, r.Write(context.Background(), delivery("yes, go ahead")))
	assert.Equal(t, []string{"yes, go ahead"}, pane.written)
	assert.Empty(t, reply.replies)
}

func TestUnknownCommandIsTypedAsText(t *testing.T) {
	r, pane, _ := newRouter()
	assert.True(t, r.Write(context.Background(), delivery("!important fix this")))
	assert.True(t, r.Write(context.Background(), delivery("!")))
	assert.Equal(t, []string{"!important fix this", "!"}, pane.written)
}

func TestHelp(t *testing.T) {
	r, pane, reply := newRouter()
	assert.True(t, r.Write(context.Background(), delivery("!help")))
	require.Len(t, reply.replies, 1)
	assert.Contains(t, reply.replies[0], "!output")
	assert.Equal(t, []id.RoomID{"!r:hs"}, reply.rooms)
	assert.Empty(t, pane.written)
}

func TestOutput(t *testing.T) {
	r, pane, reply := newRouter()

	assert.True(t, r.Write(context.Background(), delivery("!output")))
	assert.True(t, r.Write(context.Background(), delivery("!OUTPUT 10")))
	assert.True(t, r.Write(context.Background(), delivery("!output 9999")))
	assert.True(t, r.Write(context.Background(), delivery("!output nope")))

	assert.Equal(t, []int{50, 10, 500, 50}, pane.captured)
	assert.Equal(t, "```\n$ make\nok\n```", reply.replies[0])
	assert.Empty(t, pane.written)
}

func TestOutputEmptyAndFailure(t *testing.T) {
	r, pane, reply := newRouter()
	pane.screen = "  \n"
	assert.True(t, r.Write(context.Background(), delivery("!output")))
	assert.Equal(t, "(terminal is empty)", reply.replies[0])

	pane.captureErr = errors.New("no pane")
	assert.False(t, r.Write(context.Background(), delivery("!output")))
	assert.Len(t, reply.replies, 2)
}

func TestKeysCommands(t *testing.T) {
	r, pane, reply := newRouter()
	assert.True(t, r.Write(context.Background(), delivery("!interrupt")))
	assert.True(t, r.Write(context.Background(), delivery(" !escape ")))
	assert.Equal(t, 1, pane.interrupts)
	assert.Equal(t, 1, pane.escapes)
	assert.Len(t, reply.replies, 2)
	assert.Empty(t, pane.written)
}
