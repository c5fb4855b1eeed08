package models

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
)

// Chat represents a conversation container in the playground. It provides basic
// identification and labeling capabilities for organizing message threads.
type Chat struct {
	ID    string
	Title string
}

// Message represents an individual turn within a chat. The ID is stable for the
// lifetime of the message; Content grows by append while the message is still
// streaming and is frozen once StreamingState reaches StreamingStateEnded.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time

	StreamingState string

	// RelatedQuestions holds follow-up prompt suggestions reported by the
	// backend. It is attached once, at finalization, and only for
	// assistant messages.
	RelatedQuestions []string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message.
	RoleAssistant Role = "assistant"
	// RoleSystem represents a system message. System messages never come from
	// the UI; the request builder injects exactly one as the preamble.
	RoleSystem Role = "system"
)

// Streaming states for an assistant message. At most one message per chat may
// be in a non-ended state at any time.
const (
	StreamingStateLoading   = "loading"
	StreamingStateStreaming = "streaming"
	StreamingStateEnded     = "ended"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		highlighting.NewHighlighting(
			highlighting.WithStyle("monokai"),
		),
	),
)

// RenderHTML converts a message's markdown content into HTML for the message
// partials. The returned value is marked safe for template embedding.
func RenderHTML(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	//nolint:gosec // Goldmark sanitizes raw HTML by default.
	return template.HTML(buf.String()), nil
}
