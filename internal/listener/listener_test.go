package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/matrix"
	"github.com/artpi/jackpoint/internal/metrics"
	"github.com/artpi/jackpoint/internal/session"
	"github.com/artpi/jackpoint/internal/store"
)

const self = id.UserID("@bot:hs")

type fakeSub struct {
	ch     chan matrix.Update
	closed atomic.Bool
}

func (f *fakeSub) Updates() <-chan matrix.Update { return f.ch }
func (f *fakeSub) Close()                        { f.closed.Store(true) }

type fakeService struct {
	sub *fakeSub
}

func (f *fakeService) UserID() id.UserID { return self }

func (f *fakeService) Subscribe(context.Context) (matrix.Subscription, error) {
	return f.sub, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []Delivery
	fail   bool
}

func (w *recordingWriter) Write(_ context.Context, d Delivery) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, d)
	return !w.fail
}

func (w *recordingWriter) all() []Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Delivery(nil), w.writes...)
}

type harness struct {
	l      *Listener
	sub    *fakeSub
	writer *recordingWriter
	store  *store.Store
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st := store.New(t.TempDir())
	_, err := st.Update(func(rec *store.Record) {
		rec.AccessToken = "tok"
		rec.UserID = self
		rec.Rooms["box:work:0.1"] = "!r1:hs"
		rec.Rooms["box:work:0.2"] = "!r2:hs"
		rec.Rooms["box:/src/app"] = "!dir:hs"
	})
	require.NoError(t, err)

	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = time.Hour
	}
	sub := &fakeSub{ch: make(chan matrix.Update)}
	writer := &recordingWriter{}
	l := New(&fakeService{sub: sub}, st, writer, opts, metrics.New(), zerolog.Nop())

	ok, err := l.Start(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(l.Stop)
	return &harness{l: l, sub: sub, writer: writer, store: st}
}

func (h *harness) push(u matrix.Update) {
	h.sub.ch <- u
}

func (h *harness) goLive() {
	h.push(matrix.Update{State: matrix.SyncBackfill})
	h.push(matrix.Update{State: matrix.SyncLive})
}

func (h *harness) message(evtID id.EventID, room id.RoomID, sender id.UserID, body string) {
	h.push(matrix.Update{Event: &matrix.TimelineEvent{
		ID:      evtID,
		RoomID:  room,
		Sender:  sender,
		Type:    event.EventMessage,
		MsgType: event.MsgText,
		Body:    body,
	}})
}

// stopped waits for the loop to finish the last pushed update.
func (h *harness) stopped() []Delivery {
	h.l.Stop()
	return h.writer.all()
}

func TestStartWithoutCredentialReportsFalse(t *testing.T) {
	st := store.New(t.TempDir())
	l := New(&fakeService{sub: &fakeSub{ch: make(chan matrix.Update)}}, st, &recordingWriter{}, Options{}, nil, zerolog.Nop())

	ok, err := l.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateStopped, l.State())
	assert.NotPanics(t, l.Stop)
}

func TestRepeatedStartStop(t *testing.T) {
	st := store.New(t.TempDir())
	_, err := st.Update(func(rec *store.Record) { rec.AccessToken = "tok" })
	require.NoError(t, err)
	l := New(&fakeService{sub: &fakeSub{ch: make(chan matrix.Update)}}, st, &recordingWriter{}, Options{RefreshInterval: time.Hour}, nil, zerolog.Nop())

	for i := 0; i < 2000; i++ {
		ok, err := l.Start(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		l.Stop()
		require.Equal(t, StateStopped, l.State())
	}
}

func TestDeliversLiveMessage(t *testing.T) {
	h := newHarness(t, Options{})
	assert.Equal(t, StateSyncing, h.l.State())

	h.goLive()
	h.message("$1", "!r1:hs", "@me:hs", "yes please")
	assert.Equal(t, StateReady, h.l.State())

	writes := h.stopped()
	require.Len(t, writes, 1)
	assert.Equal(t, Delivery{
		Target:     "work:0.1",
		RoomID:     "!r1:hs",
		SessionKey: "box:work:0.1",
		Body:       "yes please",
	}, writes[0])
	assert.True(t, h.sub.closed.Load())
	assert.Equal(t, StateStopped, h.l.State())
}

func TestHistoricalAndPreReadyEventsAreSuppressed(t *testing.T) {
	h := newHarness(t, Options{})

	h.push(matrix.Update{State: matrix.SyncBackfill})
	h.message("$early", "!r1:hs", "@me:hs", "before ready")
	h.push(matrix.Update{Event: &matrix.TimelineEvent{
		ID: "$old", RoomID: "!r1:hs", Sender: "@me:hs",
		Type: event.EventMessage, MsgType: event.MsgText, Body: "old", Historical: true,
	}})
	h.push(matrix.Update{State: matrix.SyncLive})
	h.push(matrix.Update{Event: &matrix.TimelineEvent{
		ID: "$old2", RoomID: "!r1:hs", Sender: "@me:hs",
		Type: event.EventMessage, MsgType: event.MsgText, Body: "old", Historical: true,
	}})

	assert.Empty(t, h.stopped())
}

func TestDuplicateEventIsWrittenOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.goLive()
	h.message("$1", "!r1:hs", "@me:hs", "once")
	h.message("$1", "!r1:hs", "@me:hs", "once")

	assert.Len(t, h.stopped(), 1)
}

func TestOwnMessagesAreNotEchoed(t *testing.T) {
	h := newHarness(t, Options{})
	h.goLive()
	h.message("$1", "!r1:hs", self, "🔧 notification")

	assert.Empty(t, h.stopped())
}

func TestNonTextAndUnroutableEventsAreDropped(t *testing.T) {
	h := newHarness(t, Options{})
	h.goLive()

	h.push(matrix.Update{Event: &matrix.TimelineEvent{
		ID: "$notice", RoomID: "!r1:hs", Sender: "@me:hs",
		Type: event.EventMessage, MsgType: event.MsgNotice, Body: "n",
	}})
	h.push(matrix.Update{Event: &matrix.TimelineEvent{
		ID: "$reaction", RoomID: "!r1:hs", Sender: "@me:hs", Type: event.EventReaction,
	}})
	h.message("$unknown", "!elsewhere:hs", "@me:hs", "who?")
	h.message("$dir", "!dir:hs", "@me:hs", "no pane")

	assert.Empty(t, h.stopped())
}

func TestTargetFilter(t *testing.T) {
	h := newHarness(t, Options{Target: "work:0.1"})
	h.goLive()
	h.message("$other", "!r2:hs", "@me:hs", "for 0.2")
	h.message("$mine", "!r1:hs", "@me:hs", "for 0.1")

	writes := h.stopped()
	require.Len(t, writes, 1)
	assert.Equal(t, session.Target("work:0.1"), writes[0].Target)
	assert.Equal(t, "for 0.1", writes[0].Body)
}

func TestWriteFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, Options{})
	h.writer.fail = true
	h.goLive()
	h.message("$1", "!r1:hs", "@me:hs", "lost")
	h.message("$1", "!r1:hs", "@me:hs", "lost")

	assert.Len(t, h.stopped(), 1)
}

func TestRefreshRoomMappingPicksUpNewRooms(t *testing.T) {
	h := newHarness(t, Options{})
	h.goLive()

	_, err := h.store.Update(func(rec *store.Record) { rec.Rooms["box:work:1.0"] = "!late:hs" })
	require.NoError(t, err)

	h.message("$before", "!late:hs", "@me:hs", "too early")
	h.l.RefreshRoomMapping()
	h.message("$after", "!late:hs", "@me:hs", "now routed")

	writes := h.stopped()
	require.Len(t, writes, 1)
	assert.Equal(t, session.Target("work:1.0"), writes[0].Target)
}

func TestStoreWatchRefreshesIndex(t *testing.T) {
	h := newHarness(t, Options{WatchStore: true})

	_, err := h.store.Update(func(rec *store.Record) { rec.Rooms["box:work:2.0"] = "!watched:hs" })
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		h.l.mu.Lock()
		defer h.l.mu.Unlock()
		_, ok := h.l.index["!watched:hs"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "syncing", StateSyncing.String())
	assert.Equal(t, "ready", StateReady.String())
}
