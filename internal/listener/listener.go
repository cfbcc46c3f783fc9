// Package listener routes replies from the messaging service back into the
// tmux pane whose session owns the room.
package listener

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/matrix"
	"github.com/artpi/jackpoint/internal/metrics"
	"github.com/artpi/jackpoint/internal/session"
	"github.com/artpi/jackpoint/internal/store"
)

type State int

const (
	StateStopped State = iota
	StateSyncing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateSyncing:
		return "syncing"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Service is the part of the messaging service the listener needs.
type Service interface {
	UserID() id.UserID
	Subscribe(ctx context.Context) (matrix.Subscription, error)
}

// Delivery is one inbound message bound for a pane.
type Delivery struct {
	Target     session.Target
	RoomID     id.RoomID
	SessionKey session.Key
	Body       string
}

// Writer hands a delivery to the pane. It reports false on failure.
type Writer interface {
	Write(ctx context.Context, d Delivery) bool
}

type Options struct {
	// Target restricts delivery to one pane when several coordinators
	// share the account.
	Target          session.Target
	RefreshInterval time.Duration
	DedupCapacity   int
	// WatchStore refreshes the room index as soon as the session file
	// changes, in addition to the periodic refresh.
	WatchStore bool
}

type Listener struct {
	svc     Service
	store   *store.Store
	writer  Writer
	opts    Options
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu    sync.Mutex
	state State
	index map[id.RoomID]session.Key
	seen  *dedupSet
	self  id.UserID

	sub    matrix.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func New(svc Service, st *store.Store, writer Writer, opts Options, m *metrics.Metrics, log zerolog.Logger) *Listener {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 10 * time.Second
	}
	return &Listener{
		svc:     svc,
		store:   st,
		writer:  writer,
		opts:    opts,
		metrics: m,
		log:     log.With().Str("component", "listener").Logger(),
		index:   make(map[id.RoomID]session.Key),
		seen:    newDedupSet(opts.DedupCapacity),
	}
}

// Start subscribes to the sync stream. It reports false without error when
// no cached credential exists yet.
func (l *Listener) Start(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		return true, nil
	}
	l.mu.Unlock()

	rec := l.store.Load()
	if rec.AccessToken == "" {
		l.log.Info().Msg("No cached credential, inbound relay disabled")
		return false, nil
	}

	self := l.svc.UserID()
	if self == "" {
		self = rec.UserID
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := l.svc.Subscribe(ctx)
	if err != nil {
		cancel()
		return false, err
	}

	done := make(chan struct{})
	l.mu.Lock()
	l.index = rec.RoomIndex()
	l.self = self
	l.state = StateSyncing
	l.sub = sub
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	var watcher *fsnotify.Watcher
	if l.opts.WatchStore {
		watcher = l.watchStore()
	}

	go l.loop(ctx, sub, watcher, done)
	l.log.Info().Str("target", string(l.opts.Target)).Int("rooms", len(rec.Rooms)).Msg("Listener started")
	return true, nil
}

// Stop halts the sync loop and waits for it. Safe to call repeatedly.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done, sub := l.cancel, l.done, l.sub
	l.cancel, l.done, l.sub = nil, nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	sub.Close()

	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RefreshRoomMapping rebuilds the room index from the store so rooms
// created after Start become deliverable.
func (l *Listener) RefreshRoomMapping() {
	index := l.store.Load().RoomIndex()
	l.mu.Lock()
	l.index = index
	l.mu.Unlock()
}

func (l *Listener) watchStore() *fsnotify.Watcher {
	dir := filepath.Dir(l.store.Path())
	if err := os.MkdirAll(dir, 0700); err != nil {
		l.log.Debug().Err(err).Msg("Cannot create state directory, store watch disabled")
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.log.Debug().Err(err).Msg("fsnotify unavailable, relying on periodic refresh")
		return nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		l.log.Debug().Err(err).Msg("fsnotify add failed, relying on periodic refresh")
		return nil
	}
	return watcher
}

// loop owns done and closes it on return. It never touches l.done, which
// Stop clears concurrently.
func (l *Listener) loop(ctx context.Context, sub matrix.Subscription, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var (
		fsEvents <-chan fsnotify.Event
		fsErrors <-chan error
	)
	if watcher != nil {
		defer watcher.Close()
		fsEvents, fsErrors = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(l.opts.RefreshInterval)
	defer ticker.Stop()

	updates := sub.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				l.log.Warn().Msg("Sync stream closed")
				return
			}
			l.handleUpdate(ctx, u)
		case <-ticker.C:
			l.RefreshRoomMapping()
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if filepath.Base(ev.Name) == store.FileName && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				l.RefreshRoomMapping()
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			l.log.Debug().Err(err).Msg("Store watch error")
		}
	}
}

func (l *Listener) handleUpdate(ctx context.Context, u matrix.Update) {
	if u.Event == nil {
		if u.State == matrix.SyncLive {
			l.mu.Lock()
			if l.state == StateSyncing {
				l.state = StateReady
			}
			l.mu.Unlock()
			l.log.Info().Msg("Initial sync complete, relaying new messages")
		}
		return
	}

	delivery, outcome := l.route(u.Event)
	if outcome != "" {
		l.metrics.Inbound(outcome)
		return
	}

	if !l.writer.Write(ctx, delivery) {
		l.metrics.Inbound("write_failed")
		l.log.Warn().
			Str("target", string(delivery.Target)).
			Str("room_id", delivery.RoomID.String()).
			Msg("Failed to deliver message to pane")
		return
	}
	l.metrics.Inbound("delivered")
	l.log.Debug().Str("target", string(delivery.Target)).Msg("Delivered message to pane")
}

// route applies the filter pipeline. A non-empty outcome names the filter
// that rejected the event.
func (l *Listener) route(ev *matrix.TimelineEvent) (Delivery, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case ev.Historical:
		return Delivery{}, "historical"
	case l.state != StateReady:
		return Delivery{}, "not_ready"
	case !ev.IsText():
		return Delivery{}, "not_text"
	case ev.Sender == l.self:
		return Delivery{}, "self"
	case !l.seen.Add(ev.ID):
		return Delivery{}, "duplicate"
	}

	key, ok := l.index[ev.RoomID]
	if !ok {
		return Delivery{}, "unknown_room"
	}
	target, ok := key.Target()
	if !ok {
		return Delivery{}, "no_target"
	}
	if l.opts.Target != "" && target != l.opts.Target {
		return Delivery{}, "other_target"
	}
	return Delivery{Target: target, RoomID: ev.RoomID, SessionKey: key, Body: ev.Body}, ""
}
