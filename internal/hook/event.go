package hook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names an Event variant.
type Kind string

const (
	KindSessionStart Kind = "session_start"
	KindQuestion     Kind = "question"
	KindStop         Kind = "stop"
	KindToolUse      Kind = "tool_use"
	KindPermission   Kind = "permission"
	KindOther        Kind = "other"
)

// Typing is the typing indicator change an event implies.
type Typing int

const (
	TypingUnchanged Typing = iota
	TypingOn
	TypingOff
)

const (
	toolAskUserQuestion = "AskUserQuestion"
	toolBash            = "Bash"

	maxMessageLen = 16000
)

// RenderContext carries what rendering needs beyond the event itself.
type RenderContext struct {
	Existing bool
	Host     string
	Pane     string
	Dir      string
	Repo     string
	Branch   string
}

// Event is a closed set: only the types in this file implement it.
type Event interface {
	Kind() Kind
	Render(rc RenderContext) string
	Typing() Typing
	sealed()
}

type SessionStart struct {
	Source string
}

type QuestionEvent struct {
	Questions []Question
	Message   string
}

type Permission struct {
	ToolName  string
	ToolInput json.RawMessage
}

type Stop struct {
	Message string
}

type ToolUse struct {
	ToolName string
	Message  string
}

type Other struct {
	Name    string
	Message string
}

func (SessionStart) Kind() Kind  { return KindSessionStart }
func (QuestionEvent) Kind() Kind { return KindQuestion }
func (Permission) Kind() Kind    { return KindPermission }
func (Stop) Kind() Kind          { return KindStop }
func (ToolUse) Kind() Kind       { return KindToolUse }
func (Other) Kind() Kind         { return KindOther }

func (SessionStart) Typing() Typing  { return TypingOn }
func (ToolUse) Typing() Typing       { return TypingOn }
func (QuestionEvent) Typing() Typing { return TypingOff }
func (Stop) Typing() Typing          { return TypingOff }
func (Permission) Typing() Typing    { return TypingOff }
func (Other) Typing() Typing         { return TypingUnchanged }

func (SessionStart) sealed()  {}
func (QuestionEvent) sealed() {}
func (Permission) sealed()    {}
func (Stop) sealed()          {}
func (ToolUse) sealed()       {}
func (Other) sealed()         {}

// FromPayload maps a hook payload to its event. Unknown hook names report
// false, as do payloads another hook already announced: permission
// notifications (PermissionRequest) and AskUserQuestion permission
// requests (PreToolUse).
func FromPayload(p Payload) (Event, bool) {
	switch p.EventName {
	case "SessionStart":
		return SessionStart{Source: p.Source}, true
	case "PreToolUse", "PostToolUse":
		if p.ToolName == toolAskUserQuestion {
			if p.EventName == "PostToolUse" {
				return nil, false
			}
			return questionFromInput(p), true
		}
		return ToolUse{ToolName: p.ToolName, Message: p.Message}, true
	case "PermissionRequest":
		if p.ToolName == toolAskUserQuestion {
			return nil, false
		}
		return Permission{ToolName: p.ToolName, ToolInput: p.ToolInput}, true
	case "UserPromptSubmit":
		return ToolUse{Message: p.Prompt}, true
	case "Notification":
		switch p.NotificationType {
		case "permission_prompt":
			return nil, false
		case "idle_prompt":
			return Stop{Message: p.Message}, true
		}
		return Other{Name: p.EventName, Message: p.Message}, true
	case "Stop":
		msg := LastAssistantMessage(p.TranscriptPath)
		if msg == "" {
			msg = p.Message
		}
		return Stop{Message: msg}, true
	case "SessionEnd":
		return Other{Name: p.EventName, Message: "Session ended"}, true
	}
	return nil, false
}

func questionFromInput(p Payload) QuestionEvent {
	ev := QuestionEvent{Message: p.Message}
	if len(p.ToolInput) > 0 {
		var in questionInput
		if err := json.Unmarshal(p.ToolInput, &in); err == nil {
			ev.Questions = in.Questions
		}
	}
	return ev
}

func (e SessionStart) Render(rc RenderContext) string {
	var b strings.Builder
	if rc.Existing {
		b.WriteString("🔄 **New Session**")
	} else {
		b.WriteString("🚀 **Session Started**")
	}

	lines := [][2]string{
		{"Host", rc.Host},
		{"Pane", rc.Pane},
		{"Directory", rc.Dir},
		{"Repository", rc.Repo},
		{"Branch", rc.Branch},
	}
	for _, line := range lines {
		if line[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "\n%s: `%s`", line[0], line[1])
	}
	return b.String()
}

func (e QuestionEvent) Render(RenderContext) string {
	var blocks []string
	for _, q := range e.Questions {
		if q.Question == "" {
			continue
		}
		var b strings.Builder
		b.WriteString("❓ ")
		if q.Header != "" {
			fmt.Fprintf(&b, "**%s**\n", q.Header)
		}
		b.WriteString(q.Question)
		n := 0
		for _, opt := range q.Options {
			if opt.Label == "" {
				continue
			}
			n++
			if n == 1 {
				b.WriteString("\n")
			}
			if opt.Description != "" {
				fmt.Fprintf(&b, "\n%d. %s - %s", n, opt.Label, opt.Description)
			} else {
				fmt.Fprintf(&b, "\n%d. %s", n, opt.Label)
			}
		}
		blocks = append(blocks, b.String())
	}
	if len(blocks) == 0 {
		if e.Message != "" {
			return "❓ " + truncate(e.Message)
		}
		return "❓ A question is waiting for your answer"
	}
	return strings.Join(blocks, "\n\n")
}

func (e Permission) Render(RenderContext) string {
	tool := e.ToolName
	if tool == "" {
		tool = "unknown tool"
	}
	header := fmt.Sprintf("🔐 Permission requested: **%s**", tool)
	if body := permissionBody(e.ToolName, e.ToolInput); body != "" {
		return header + "\n\n" + body
	}
	return header
}

func permissionBody(tool string, input json.RawMessage) string {
	if len(bytes.TrimSpace(input)) == 0 || string(bytes.TrimSpace(input)) == "null" {
		return ""
	}

	var fields map[string]any
	_ = json.Unmarshal(input, &fields)

	switch tool {
	case toolBash:
		if command, ok := fields["command"].(string); ok && command != "" {
			body := "```sh\n" + truncate(command) + "\n```"
			if desc, ok := fields["description"].(string); ok && desc != "" {
				body = desc + "\n" + body
			}
			return body
		}
	case "Edit", "MultiEdit", "Write", "Read", "NotebookEdit":
		for _, key := range []string{"file_path", "notebook_path", "path"} {
			if path, ok := fields[key].(string); ok && path != "" {
				return "File: `" + path + "`"
			}
		}
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, input, "", "  "); err != nil {
		return "```\n" + truncate(string(input)) + "\n```"
	}
	return "```json\n" + truncate(pretty.String()) + "\n```"
}

func (e Stop) Render(RenderContext) string {
	if e.Message == "" {
		return "✅ Waiting for input"
	}
	return "✅ " + truncate(e.Message)
}

func (e ToolUse) Render(RenderContext) string {
	msg := e.Message
	if msg == "" {
		msg = "Working…"
	}
	if e.ToolName != "" {
		return fmt.Sprintf("🔧 **%s**: %s", e.ToolName, truncate(msg))
	}
	return "🔧 " + truncate(msg)
}

func (e Other) Render(RenderContext) string {
	if e.Message != "" {
		return "ℹ️ " + truncate(e.Message)
	}
	if e.Name != "" {
		return "ℹ️ " + e.Name
	}
	return "ℹ️ Notification"
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
