package types

// Record type tags as written in the "type" field of each log line
const (
	EventTypeUser                = "user"
	EventTypeAssistant           = "assistant"
	EventTypeSystem              = "system"
	EventTypeSummary             = "summary"
	EventTypeFileHistorySnapshot = "file-history-snapshot"
	EventTypeQueueOperation      = "queue-operation"
)

// =============================================================================
// WIRE SHAPES (decode only; never leave this package)
// =============================================================================

// lineHeader holds the fields shared by most log lines.
type lineHeader struct {
	UUID        string `json:"uuid"`
	ParentUUID  string `json:"parentUuid"`
	SessionID   string `json:"sessionId"`
	Timestamp   string `json:"timestamp"`
	Cwd         string `json:"cwd"`
	IsSidechain bool   `json:"isSidechain"`
}

type userLine struct {
	lineHeader
	Message struct {
		Content Content `json:"content"` // string, or blocks for tool results
	} `json:"message"`
	IsMeta                    bool `json:"isMeta"`
	IsVisibleInTranscriptOnly bool `json:"isVisibleInTranscriptOnly"`
}

type assistantLine struct {
	lineHeader
	Message struct {
		Model   string         `json:"model"`
		Content []ContentBlock `json:"content"`
	} `json:"message"`
}

type systemLine struct {
	lineHeader
	Content string `json:"content"`
	IsMeta  bool   `json:"isMeta"`
}

// summaryLine has no timestamp; leafUuid names the message it summarizes.
type summaryLine struct {
	Summary  string `json:"summary"`
	LeafUUID string `json:"leafUuid"`
}

type queueLine struct {
	lineHeader
	Operation string `json:"operation"`
	Content   string `json:"content"`
}
