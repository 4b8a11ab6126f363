package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoDiscriminator is returned for JSON objects without a "type" field.
var ErrNoDiscriminator = errors.New("missing type discriminator")

// Kind classifies a record by its type tag.
type Kind int

const (
	KindUnknown Kind = iota
	KindUser
	KindAssistant
	KindSystem
	KindSummary
	KindFileHistorySnapshot
	KindQueueOperation
)

var kindByTag = map[string]Kind{
	EventTypeUser:                KindUser,
	EventTypeAssistant:           KindAssistant,
	EventTypeSystem:              KindSystem,
	EventTypeSummary:             KindSummary,
	EventTypeFileHistorySnapshot: KindFileHistorySnapshot,
	EventTypeQueueOperation:      KindQueueOperation,
}

// KindOf maps a type tag to its Kind. Unrecognised tags are KindUnknown.
func KindOf(tag string) Kind {
	return kindByTag[tag]
}

func (k Kind) String() string {
	for tag, kind := range kindByTag {
		if kind == k {
			return tag
		}
	}
	return "unknown"
}

// DecodeRecord decodes one JSONL line into a Record in two passes: the
// "type" discriminator first, then the full line into the shape that tag
// selects. Lines that are not JSON objects or lack a "type" are errors.
func DecodeRecord(line []byte) (Record, error) {
	if len(line) == 0 {
		return Record{}, errors.New("empty line")
	}

	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &tag); err != nil {
		return Record{}, fmt.Errorf("failed to parse discriminator: %w", err)
	}
	if tag.Type == "" {
		return Record{}, ErrNoDiscriminator
	}

	switch KindOf(tag.Type) {
	case KindUser:
		var l userLine
		if err := json.Unmarshal(line, &l); err != nil {
			return Record{}, fmt.Errorf("failed to parse user record: %w", err)
		}
		r := l.record(tag.Type)
		r.Content = l.Message.Content
		r.IsMeta = l.IsMeta || l.IsVisibleInTranscriptOnly
		return r, nil

	case KindAssistant:
		var l assistantLine
		if err := json.Unmarshal(line, &l); err != nil {
			return Record{}, fmt.Errorf("failed to parse assistant record: %w", err)
		}
		r := l.record(tag.Type)
		r.Content = BlockContent(l.Message.Content)
		r.Model = l.Message.Model
		return r, nil

	case KindSystem:
		var l systemLine
		if err := json.Unmarshal(line, &l); err != nil {
			return Record{}, fmt.Errorf("failed to parse system record: %w", err)
		}
		r := l.record(tag.Type)
		r.IsMeta = l.IsMeta
		if l.Content != "" {
			r.Content = TextContent(l.Content)
		}
		return r, nil

	case KindSummary:
		var l summaryLine
		if err := json.Unmarshal(line, &l); err != nil {
			return Record{}, fmt.Errorf("failed to parse summary record: %w", err)
		}
		return Record{Type: tag.Type, UUID: l.LeafUUID, Content: TextContent(l.Summary)}, nil

	case KindQueueOperation:
		var l queueLine
		if err := json.Unmarshal(line, &l); err != nil {
			return Record{}, fmt.Errorf("failed to parse queue-operation record: %w", err)
		}
		r := l.record(tag.Type)
		if l.Content != "" {
			r.Content = TextContent(l.Content)
		}
		return r, nil

	default:
		// Snapshots and tags added by newer Claude Code versions keep their
		// tag and common fields.
		var h lineHeader
		if err := json.Unmarshal(line, &h); err != nil {
			return Record{}, fmt.Errorf("failed to parse %s record: %w", tag.Type, err)
		}
		return h.record(tag.Type), nil
	}
}

func (h lineHeader) record(tag string) Record {
	return Record{
		Type:        tag,
		UUID:        h.UUID,
		ParentUUID:  h.ParentUUID,
		SessionID:   h.SessionID,
		Timestamp:   ParseTimestamp(h.Timestamp),
		Cwd:         h.Cwd,
		IsSidechain: h.IsSidechain,
	}
}
