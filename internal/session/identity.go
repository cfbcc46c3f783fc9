// Package session derives the stable key that ties a terminal location to a
// remote room.
package session

import (
	"os"
	"path/filepath"
	"strings"
)

// Key identifies one logical terminal target: "host:tmuxSession:window.pane"
// or, outside tmux, "host:/working/directory".
type Key string

// Target is a tmux pane locator ("session:window.pane").
type Target string

// PaneLocator reports the tmux pane the current process runs in. An error or
// an empty locator means no multiplexer is active.
type PaneLocator interface {
	CurrentPane() (Target, error)
}

// Identity is everything known about where the coordinator runs.
type Identity struct {
	Host string
	Pane Target
	Cwd  string
}

// Derive builds the key for host, pane and cwd. Pure.
func Derive(host string, pane Target, cwd string) Key {
	if pane != "" {
		return Key(host + ":" + string(pane))
	}
	return Key(host + ":" + cwd)
}

// Detect queries the host name and the active pane. Both are best-effort:
// a failing locator falls back to the directory key.
func Detect(locator PaneLocator, cwd string) Identity {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	// short host name only
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}

	id := Identity{Host: host, Cwd: filepath.Clean(cwd)}
	if locator != nil {
		if pane, err := locator.CurrentPane(); err == nil {
			id.Pane = pane
		}
	}
	return id
}

// Key returns the session key of the identity.
func (i Identity) Key() Key {
	return Derive(i.Host, i.Pane, i.Cwd)
}

// DisplayName is a short human label used when naming a new room.
func (i Identity) DisplayName() string {
	name := filepath.Base(i.Cwd)
	if name == "." || name == string(filepath.Separator) {
		name = i.Cwd
	}
	if i.Pane != "" {
		return name + " (" + string(i.Pane) + ")"
	}
	return name + " @ " + i.Host
}

// Target derives the tmux pane of the key by dropping the host segment.
// Directory-fallback keys have no target.
func (k Key) Target() (Target, bool) {
	_, rest, ok := strings.Cut(string(k), ":")
	if !ok || rest == "" {
		return "", false
	}
	if strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "~") {
		return "", false
	}
	// window.pane must follow the last colon
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || !strings.Contains(rest[idx+1:], ".") {
		return "", false
	}
	return Target(rest), true
}

// Host returns the host segment of the key.
func (k Key) Host() string {
	host, _, _ := strings.Cut(string(k), ":")
	return host
}
