// Package store persists the session record: cached access token, the
// session-key to room map and the current room pointer.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/session"
)

const FileName = "session.json"

type Record struct {
	AccessToken string                    `json:"access_token,omitempty"`
	UserID      id.UserID                 `json:"user_id,omitempty"`
	Rooms       map[session.Key]id.RoomID `json:"rooms"`
	CurrentRoom id.RoomID                 `json:"current_room,omitempty"`
}

// RoomIndex returns the reverse room -> session key mapping.
func (r *Record) RoomIndex() map[id.RoomID]session.Key {
	index := make(map[id.RoomID]session.Key, len(r.Rooms))
	for key, room := range r.Rooms {
		index[room] = key
	}
	return index
}

// Store is a single-writer JSON file. Concurrent coordinators sharing one
// file race with last-write-wins.
type Store struct {
	path string
}

func New(stateDir string) *Store {
	return &Store{path: filepath.Join(stateDir, FileName)}
}

func (s *Store) Path() string {
	return s.path
}

// Load never fails: an absent or unparseable file yields an empty record.
func (s *Store) Load() *Record {
	rec := &Record{}
	if data, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(data, rec); err != nil {
			rec = &Record{}
		}
	}
	if rec.Rooms == nil {
		rec.Rooms = make(map[session.Key]id.RoomID)
	}
	return rec
}

// Save replaces the file through a temp file and rename.
func (s *Store) Save(rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Update loads, applies fn and saves.
func (s *Store) Update(fn func(rec *Record)) (*Record, error) {
	rec := s.Load()
	fn(rec)
	return rec, s.Save(rec)
}
