package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/artpi/jackpoint/internal/session"
)

func TestLoadAbsentFileReturnsEmptyRecord(t *testing.T) {
	s := New(t.TempDir())

	rec := s.Load()
	require.NotNil(t, rec)
	assert.Empty(t, rec.AccessToken)
	assert.NotNil(t, rec.Rooms)
	assert.Empty(t, rec.Rooms)
}

func TestLoadCorruptFileReturnsEmptyRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o600))

	rec := New(dir).Load()
	assert.NotNil(t, rec.Rooms)
	assert.Empty(t, rec.CurrentRoom)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s := New(dir)

	rec := s.Load()
	rec.AccessToken = "tok"
	rec.UserID = "@bot:hs"
	rec.Rooms["box:work:0.1"] = "!a:hs"
	rec.CurrentRoom = "!a:hs"
	require.NoError(t, s.Save(rec))

	got := s.Load()
	assert.Equal(t, rec, got)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestUpdateIsLastWriteWins(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Update(func(rec *Record) { rec.Rooms["k1"] = "!one:hs" })
	require.NoError(t, err)
	_, err = s.Update(func(rec *Record) { rec.Rooms["k1"] = "!two:hs" })
	require.NoError(t, err)

	assert.Equal(t, id.RoomID("!two:hs"), s.Load().Rooms["k1"])
}

func TestRoomIndex(t *testing.T) {
	rec := &Record{Rooms: map[session.Key]id.RoomID{
		"box:work:0.1": "!a:hs",
		"box:/src":     "!b:hs",
	}}

	index := rec.RoomIndex()
	assert.Equal(t, session.Key("box:work:0.1"), index["!a:hs"])
	assert.Equal(t, session.Key("box:/src"), index["!b:hs"])
	assert.Len(t, index, 2)
}
