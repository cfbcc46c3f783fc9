// Package hook models the payloads the wrapped agent's hooks emit and turns
// them into typed events.
package hook

import (
	"bufio"
	"encoding/json"
	"os"
)

// Payload is the JSON document a hook invocation writes to the relay.
type Payload struct {
	EventName        string          `json:"hook_event_name"`
	SessionID        string          `json:"session_id"`
	ToolName         string          `json:"tool_name,omitempty"`
	ToolInput        json.RawMessage `json:"tool_input,omitempty"`
	Cwd              string          `json:"cwd"`
	TranscriptPath   string          `json:"transcript_path,omitempty"`
	NotificationType string          `json:"notification_type,omitempty"`
	Message          string          `json:"message,omitempty"`
	Source           string          `json:"source,omitempty"`
	Prompt           string          `json:"prompt,omitempty"`
}

// Parse decodes a relay payload. Anything that is valid JSON is accepted:
// fields of an unexpected type are left empty instead of failing the whole
// payload.
func Parse(data []byte) (Payload, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err == nil {
		return p, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Payload{}, nil
	}
	str := func(name string) string {
		var s string
		_ = json.Unmarshal(fields[name], &s)
		return s
	}
	return Payload{
		EventName:        str("hook_event_name"),
		SessionID:        str("session_id"),
		ToolName:         str("tool_name"),
		ToolInput:        fields["tool_input"],
		Cwd:              str("cwd"),
		TranscriptPath:   str("transcript_path"),
		NotificationType: str("notification_type"),
		Message:          str("message"),
		Source:           str("source"),
		Prompt:           str("prompt"),
	}, nil
}

// Question is one entry of AskUserQuestion's tool input.
type Question struct {
	Question    string   `json:"question"`
	Header      string   `json:"header"`
	MultiSelect bool     `json:"multiSelect"`
	Options     []Option `json:"options"`
}

// Option is one choice of a Question.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

type questionInput struct {
	Questions []Question `json:"questions"`
}

type transcriptEntry struct {
	Type    string `json:"type"`
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// LastAssistantMessage returns the final assistant text block of a JSONL
// transcript, or "" when there is none.
func LastAssistantMessage(transcriptPath string) string {
	if transcriptPath == "" {
		return ""
	}
	file, err := os.Open(transcriptPath)
	if err != nil {
		return ""
	}
	defer file.Close()

	var last string
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)
	for scanner.Scan() {
		var entry transcriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil || entry.Type != "assistant" {
			continue
		}
		var blocks []contentBlock
		if err := json.Unmarshal(entry.Message.Content, &blocks); err != nil {
			continue
		}
		for _, block := range blocks {
			if block.Type == "text" && block.Text != "" {
				last = block.Text
			}
		}
	}
	return last
}
