package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// hookEvents are the Claude Code hook points that report to the relay.
var hookEvents = []string{
	"SessionStart",
	"UserPromptSubmit",
	"PreToolUse",
	"PermissionRequest",
	"Notification",
	"Stop",
	"SessionEnd",
}

const hookTimeoutSeconds = 5

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type hookMatcher struct {
	Hooks []hookCommand `json:"hooks"`
}

type claudeSettings struct {
	Hooks map[string][]hookMatcher `json:"hooks"`
}

func buildClaudeSettings(executable string) ([]byte, error) {
	cmd := hookCommand{
		Type:    "command",
		Command: shellEscape(executable) + " hook",
		Timeout: hookTimeoutSeconds,
	}
	settings := claudeSettings{Hooks: make(map[string][]hookMatcher, len(hookEvents))}
	for _, name := range hookEvents {
		settings.Hooks[name] = []hookMatcher{{Hooks: []hookCommand{cmd}}}
	}
	return json.MarshalIndent(settings, "", "  ")
}

// supportsHooks reports whether program understands --settings hooks.
func supportsHooks(program string) bool {
	return filepath.Base(program) == "claude"
}

// writeHookSettings writes the settings file into dir and returns the args
// with --settings prepended plus a cleanup func.
func writeHookSettings(dir, executable string, args []string) ([]string, func(), error) {
	data, err := buildClaudeSettings(executable)
	if err != nil {
		return args, func() {}, err
	}
	f, err := os.CreateTemp(dir, "jackpoint-settings-*.json")
	if err != nil {
		return args, func() {}, fmt.Errorf("failed to create hook settings: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return args, func() {}, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return args, func() {}, err
	}

	withSettings := append([]string{"--settings", path}, args...)
	return withSettings, cleanup, nil
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	replaced := strings.ReplaceAll(value, "'", "'\"'\"'")
	return "'" + replaced + "'"
}
