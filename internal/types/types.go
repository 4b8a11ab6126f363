// Package types provides shared type definitions for claudeview.
// These types are used across index, conversation, history, watcher and runtime packages.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// RECORD (one decoded JSONL line)
// =============================================================================

// Record is a single decoded log entry. Records are never mutated after decoding.
type Record struct {
	Type        string    `json:"type"` // user, assistant, summary, system, ...
	UUID        string    `json:"uuid,omitempty"`
	ParentUUID  string    `json:"parentUuid,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Content     Content   `json:"content"`
	Model       string    `json:"model,omitempty"`
	Cwd         string    `json:"cwd,omitempty"`
	IsMeta      bool      `json:"isMeta,omitempty"`
	IsSidechain bool      `json:"isSidechain,omitempty"`
}

// Kind classifies the record by its type tag.
func (r Record) Kind() Kind { return KindOf(r.Type) }

// IsMessage reports whether the record is a user or assistant message.
func (r Record) IsMessage() bool {
	k := r.Kind()
	return k == KindUser || k == KindAssistant
}

// =============================================================================
// CONTENT (tagged variant: plain text or ordered content blocks)
// =============================================================================

// ContentKind discriminates the Content variant.
type ContentKind int

const (
	ContentNone ContentKind = iota
	ContentText
	ContentBlocks
)

// Content is either a single plain-text payload or an ordered sequence of
// typed content blocks. The zero value is ContentNone.
type Content struct {
	kind   ContentKind
	text   string
	blocks []ContentBlock
}

// TextContent returns a plain-text Content.
func TextContent(text string) Content {
	return Content{kind: ContentText, text: text}
}

// BlockContent returns a block-sequence Content.
func BlockContent(blocks []ContentBlock) Content {
	return Content{kind: ContentBlocks, blocks: blocks}
}

// Kind returns which variant is populated.
func (c Content) Kind() ContentKind { return c.kind }

// Text returns the plain-text payload if c is a ContentText.
func (c Content) Text() (string, bool) {
	return c.text, c.kind == ContentText
}

// Blocks returns the block sequence if c is a ContentBlocks.
func (c Content) Blocks() ([]ContentBlock, bool) {
	return c.blocks, c.kind == ContentBlocks
}

// PlainText flattens the content to text: the payload itself for ContentText,
// the concatenated text blocks for ContentBlocks.
func (c Content) PlainText() string {
	switch c.kind {
	case ContentText:
		return c.text
	case ContentBlocks:
		var sb strings.Builder
		for _, b := range c.blocks {
			if b.Type == BlockText {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return ""
}

// HasBlockType reports whether any block has the given type.
func (c Content) HasBlockType(blockType string) bool {
	for _, b := range c.blocks {
		if b.Type == blockType {
			return true
		}
	}
	return false
}

// MarshalJSON encodes ContentText as a JSON string, ContentBlocks as an array
// and ContentNone as null.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case ContentText:
		return json.Marshal(c.text)
	case ContentBlocks:
		if c.blocks == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.blocks)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a JSON string, an array of content blocks, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("content string: %w", err)
		}
		*c = TextContent(s)
		return nil
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return fmt.Errorf("content blocks: %w", err)
		}
		*c = BlockContent(blocks)
		return nil
	}
	return fmt.Errorf("content: unexpected JSON %q", truncateForError(trimmed))
}

func truncateForError(b []byte) string {
	if len(b) > 32 {
		return string(b[:32]) + "..."
	}
	return string(b)
}

// =============================================================================
// CONTENT BLOCKS
// =============================================================================

// Content block types
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
	BlockImage      = "image"
)

// ContentBlock represents a single content block within a message.
// Field names align with the Claude Code API schema for direct parsing.
// Tool inputs and results are kept as raw JSON; the core does not interpret them.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ResultText extracts the text of a tool_result block. The result content can
// be a string or an array of text blocks.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var c Content
	if err := json.Unmarshal(b.Content, &c); err != nil {
		return ""
	}
	return c.PlainText()
}

// ImageSource contains image data for image content blocks.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// =============================================================================
// SESSION AND PROJECT LISTINGS
// =============================================================================

// Session is the listing view of one log file.
type Session struct {
	ID             string    `json:"id"`
	ProjectPath    string    `json:"projectPath"`
	Title          string    `json:"title"`
	FilePath       string    `json:"filePath"`
	MessageCount   int       `json:"messageCount"`
	FirstTimestamp time.Time `json:"firstTimestamp,omitzero"`
	LastActivity   time.Time `json:"lastActivity"`
	Size           int64     `json:"size"`
}

// Project groups sessions by directory.
type Project struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"` // decoded display path
	SessionCount int       `json:"sessionCount"`
	LastActivity time.Time `json:"lastActivity"`
}

// =============================================================================
// CHANGE NOTIFICATIONS
// =============================================================================

// Index change reasons
const (
	ReasonFS      = "fs"      // create/delete/rename observed
	ReasonRewatch = "rewatch" // watch re-established; conservative catch-up
)

// IndexChange is delivered once per settled batch that changed the set of sessions.
type IndexChange struct {
	Paths      []string  `json:"paths,omitempty"`
	Reason     string    `json:"reason"`
	SettledAt  time.Time `json:"settledAt"`
	EventCount int       `json:"eventCount"`
}

// SessionChange is delivered once per settled batch for each session whose content grew.
type SessionChange struct {
	SessionID string `json:"sessionId"`
	FilePath  string `json:"filePath"`
}

// =============================================================================
// EVENT TYPES (for transport communication)
// =============================================================================

// Event names used in envelopes
const (
	EventIndexChanged   = "index:changed"
	EventSessionChanged = "session:changed"
	EventSessionRecords = "session:records"
	EventError          = "error"
)

// EventEnvelope wraps all events pushed to transport clients.
type EventEnvelope struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}
