// Package conversation assembles the typed message list handed to the
// orchestrator: deduplication, ordering, multimodal normalization, and
// input-size shaping.
package conversation

import "time"

// Role identifies the author class of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType discriminates message parts.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolResult PartType = "tool_result"
)

// Part is one piece of a multimodal message.
type Part struct {
	Type PartType

	Text string

	// Image fields.
	MIMEType string
	Data     string // base64

	// Tool-result reference.
	TaskID string
}

// Metadata carries originator identity and ordering information.
type Metadata struct {
	OriginID  string
	Timestamp time.Time
}

// Message is an immutable conversation node.
type Message struct {
	Role     Role
	Content  string
	Parts    []Part
	Metadata Metadata
}

// Text returns the textual content of the message, concatenating text parts
// when Content is empty.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Attachment is an inbound media item before normalization.
type Attachment struct {
	MIMEType string
	Data     []byte
	Animated bool
	// Frames holds pre-decoded animation frames for animated sources.
	Frames [][]byte
}

// Request describes one collection pass.
type Request struct {
	Content     string
	OriginID    string
	Timestamp   time.Time
	History      []Message
	HistoryLimit int // history window override; 0 means config default
	Attachments []Attachment
}

// Collected is the output of Collect.
type Collected struct {
	Messages []Message
	Summary  string // human-visible media marker, empty when no media
}
