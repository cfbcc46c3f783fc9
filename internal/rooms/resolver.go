// Package rooms maps session keys to direct rooms, creating a replacement
// when a recorded room is no longer joined.
package rooms

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/session"
	"github.com/artpi/jackpoint/internal/store"
)

// Service is the part of the messaging service the resolver needs.
type Service interface {
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)
	CreateDirectRoom(ctx context.Context, invitee id.UserID, name string) (id.RoomID, error)
}

type Resolver struct {
	svc       Service
	store     *store.Store
	recipient id.UserID
	log       zerolog.Logger
	now       func() time.Time
}

func New(svc Service, st *store.Store, recipient id.UserID, log zerolog.Logger) *Resolver {
	return &Resolver{
		svc:       svc,
		store:     st,
		recipient: recipient,
		log:       log.With().Str("component", "rooms").Logger(),
		now:       time.Now,
	}
}

// Resolve returns the room for key and whether it already existed. An empty
// key creates a one-off room that is not recorded. Transport errors are
// returned as is.
func (r *Resolver) Resolve(ctx context.Context, key session.Key, hint string) (id.RoomID, bool, error) {
	rec := r.store.Load()

	if room, ok := rec.Rooms[key]; ok && key != "" && room != "" {
		joined, err := r.svc.JoinedRooms(ctx)
		if err != nil {
			return "", false, fmt.Errorf("failed to list joined rooms: %w", err)
		}
		if slices.Contains(joined, room) {
			r.persist(key, room, false)
			return room, true, nil
		}
		r.log.Info().
			Str("session_key", string(key)).
			Str("room_id", room.String()).
			Msg("Recorded room no longer joined, creating a replacement")
	}

	name := hint
	if name == "" {
		name = "jackpoint " + r.now().Format("2006-01-02 15:04")
	}
	room, err := r.svc.CreateDirectRoom(ctx, r.recipient, name)
	if err != nil {
		return "", false, fmt.Errorf("failed to create room: %w", err)
	}
	r.log.Info().
		Str("session_key", string(key)).
		Str("room_id", room.String()).
		Str("name", name).
		Msg("Created room")

	r.persist(key, room, key != "")
	return room, false, nil
}

func (r *Resolver) persist(key session.Key, room id.RoomID, mapKey bool) {
	_, err := r.store.Update(func(rec *store.Record) {
		if mapKey {
			rec.Rooms[key] = room
		}
		rec.CurrentRoom = room
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to save session record")
	}
}
