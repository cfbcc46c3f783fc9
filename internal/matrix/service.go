// Package matrix is the messaging service the bridge talks to: a Matrix
// homeserver reached through mautrix-go.
package matrix

import (
	"context"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Service is the capability set consumed by the resolver, notifier and
// listener.
type Service interface {
	UserID() id.UserID
	Whoami(ctx context.Context) (id.UserID, error)
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)
	CreateDirectRoom(ctx context.Context, invitee id.UserID, name string) (id.RoomID, error)
	SendText(ctx context.Context, room id.RoomID, text string) error
	SetTyping(ctx context.Context, room id.RoomID, typing bool, timeout time.Duration) error
	Subscribe(ctx context.Context) (Subscription, error)
}

// SyncState reports the progress of the sync stream.
type SyncState int

const (
	// SyncBackfill is emitted while the initial catch-up sync is processed.
	SyncBackfill SyncState = iota
	// SyncLive is emitted once the catch-up sync has completed.
	SyncLive
)

func (s SyncState) String() string {
	switch s {
	case SyncBackfill:
		return "backfill"
	case SyncLive:
		return "live"
	}
	return "unknown"
}

// TimelineEvent is one room timeline event reduced to what routing needs.
type TimelineEvent struct {
	ID         id.EventID
	RoomID     id.RoomID
	Sender     id.UserID
	Type       event.Type
	MsgType    event.MessageType
	Body       string
	Historical bool
}

// IsText reports a plain m.room.message of msgtype m.text.
func (e TimelineEvent) IsText() bool {
	return e.Type.Type == event.EventMessage.Type && e.MsgType == event.MsgText
}

// Update is either a timeline event or a sync state change.
type Update struct {
	Event *TimelineEvent
	State SyncState
}

// Subscription is a live sync stream. Updates are delivered in transport
// order on a single channel which is closed when the sync loop exits.
// Close stops the loop and waits for it.
type Subscription interface {
	Updates() <-chan Update
	Close()
}
