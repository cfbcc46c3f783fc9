package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/config"
	"github.com/artpi/jackpoint/internal/store"
)

// ErrAuth is returned when a password login is rejected.
var ErrAuth = errors.New("matrix login failed")

const deviceName = "jackpoint"

// Client implements Service on top of a mautrix client. Calls failing with
// M_UNKNOWN_TOKEN are retried once after a fresh login.
type Client struct {
	mx    *mautrix.Client
	creds *config.Credentials
	store *store.Store
	log   zerolog.Logger

	loginMu sync.Mutex
}

var _ Service = (*Client)(nil)

// Authenticate returns a client using the cached token from the store when
// it is still valid, otherwise it logs in with the password and caches the
// new token.
func Authenticate(ctx context.Context, creds *config.Credentials, st *store.Store, log zerolog.Logger) (*Client, error) {
	mx, err := mautrix.NewClient(creds.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("invalid homeserver %q: %w", creds.Homeserver, err)
	}
	mx.Log = log.With().Str("component", "mautrix").Logger()

	c := &Client{
		mx:    mx,
		creds: creds,
		store: st,
		log:   log.With().Str("component", "matrix").Logger(),
	}

	rec := st.Load()
	if rec.AccessToken != "" {
		mx.AccessToken = rec.AccessToken
		mx.UserID = rec.UserID
		resp, err := mx.Whoami(ctx)
		if err == nil {
			mx.UserID = resp.UserID
			return c, nil
		}
		c.log.Debug().Err(err).Msg("Cached access token rejected, logging in again")
	}

	if err := c.login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.mx.AccessToken = ""
	resp, err := c.mx.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: c.creds.UserID,
		},
		Password:                 c.creds.Password,
		InitialDeviceDisplayName: deviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	if _, err := c.store.Update(func(rec *store.Record) {
		rec.AccessToken = resp.AccessToken
		rec.UserID = resp.UserID
	}); err != nil {
		c.log.Warn().Err(err).Msg("Failed to cache access token")
	}
	c.log.Info().Str("user_id", resp.UserID.String()).Msg("Logged in")
	return nil
}

func (c *Client) withRelogin(ctx context.Context, call func() error) error {
	err := call()
	if err == nil || !errors.Is(err, mautrix.MUnknownToken) {
		return err
	}
	c.log.Info().Msg("Access token expired, logging in again")
	if err := c.login(ctx); err != nil {
		return err
	}
	return call()
}

func (c *Client) UserID() id.UserID {
	return c.mx.UserID
}

func (c *Client) Whoami(ctx context.Context) (id.UserID, error) {
	var userID id.UserID
	err := c.withRelogin(ctx, func() error {
		resp, err := c.mx.Whoami(ctx)
		if err != nil {
			return err
		}
		userID = resp.UserID
		return nil
	})
	return userID, err
}

func (c *Client) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	var rooms []id.RoomID
	err := c.withRelogin(ctx, func() error {
		resp, err := c.mx.JoinedRooms(ctx)
		if err != nil {
			return err
		}
		rooms = resp.JoinedRooms
		return nil
	})
	return rooms, err
}

func (c *Client) CreateDirectRoom(ctx context.Context, invitee id.UserID, name string) (id.RoomID, error) {
	var roomID id.RoomID
	err := c.withRelogin(ctx, func() error {
		resp, err := c.mx.CreateRoom(ctx, &mautrix.ReqCreateRoom{
			Visibility: "private",
			Preset:     "trusted_private_chat",
			Name:       name,
			Invite:     []id.UserID{invitee},
			IsDirect:   true,
		})
		if err != nil {
			return err
		}
		roomID = resp.RoomID
		return nil
	})
	return roomID, err
}

// SendText sends text rendered as markdown with a plain-text body.
func (c *Client) SendText(ctx context.Context, room id.RoomID, text string) error {
	content := format.RenderMarkdown(text, true, false)
	return c.withRelogin(ctx, func() error {
		_, err := c.mx.SendMessageEvent(ctx, room, event.EventMessage, &content)
		return err
	})
}

func (c *Client) SetTyping(ctx context.Context, room id.RoomID, typing bool, timeout time.Duration) error {
	return c.withRelogin(ctx, func() error {
		_, err := c.mx.UserTyping(ctx, room, typing, timeout)
		return err
	})
}

// Subscribe starts the sync loop. Events from the initial sync are marked
// historical; SyncLive follows the initial sync.
func (c *Client) Subscribe(ctx context.Context) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &stream{
		updates: make(chan Update, 64),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	syncer := mautrix.NewDefaultSyncer()
	syncer.OnSync(func(ctx context.Context, resp *mautrix.RespSync, since string) bool {
		s.handleSync(ctx, resp, since == "")
		return true
	})
	c.mx.Syncer = syncer

	go func() {
		defer close(s.done)
		defer close(s.updates)

		relogged := false
		for {
			err := c.mx.SyncWithContext(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			if errors.Is(err, mautrix.MUnknownToken) && !relogged {
				relogged = true
				if lerr := c.login(ctx); lerr == nil {
					continue
				}
			}
			c.log.Error().Err(err).Msg("Sync loop stopped")
			return
		}
	}()

	return s, nil
}

type stream struct {
	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *stream) Updates() <-chan Update {
	return s.updates
}

func (s *stream) Close() {
	s.cancel()
	<-s.done
}

func (s *stream) emit(ctx context.Context, u Update) {
	select {
	case s.updates <- u:
	case <-ctx.Done():
	}
}

func (s *stream) handleSync(ctx context.Context, resp *mautrix.RespSync, initial bool) {
	if initial {
		s.emit(ctx, Update{State: SyncBackfill})
	}
	for roomID, room := range resp.Rooms.Join {
		if room == nil {
			continue
		}
		for _, evt := range room.Timeline.Events {
			if evt == nil {
				continue
			}
			te := toTimelineEvent(roomID, evt)
			te.Historical = initial
			s.emit(ctx, Update{Event: &te})
		}
	}
	if initial {
		s.emit(ctx, Update{State: SyncLive})
	}
}

func toTimelineEvent(roomID id.RoomID, evt *event.Event) TimelineEvent {
	te := TimelineEvent{
		ID:     evt.ID,
		RoomID: roomID,
		Sender: evt.Sender,
		Type:   evt.Type,
	}
	if evt.Type.Type == event.EventMessage.Type && len(evt.Content.VeryRaw) > 0 {
		var content event.MessageEventContent
		if err := json.Unmarshal(evt.Content.VeryRaw, &content); err == nil {
			te.MsgType = content.MsgType
			te.Body = content.Body
		}
	}
	return te
}
