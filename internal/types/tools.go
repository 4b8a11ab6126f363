package types

import (
	"encoding/json"
	"strings"
)

// Tool names as they appear in tool_use blocks
const (
	ToolNameEdit         = "Edit"
	ToolNameBash         = "Bash"
	ToolNameRead         = "Read"
	ToolNameWrite        = "Write"
	ToolNameGrep         = "Grep"
	ToolNameGlob         = "Glob"
	ToolNameTask         = "Task"
	ToolNameWebSearch    = "WebSearch"
	ToolNameWebFetch     = "WebFetch"
	ToolNameNotebookEdit = "NotebookEdit"
	ToolNameSkill        = "Skill"
)

// toolInput holds the input fields used to describe a tool call in one line.
type toolInput struct {
	Command      string `json:"command"`
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
	Pattern      string `json:"pattern"`
	Path         string `json:"path"`
	Description  string `json:"description"`
	URL          string `json:"url"`
	Query        string `json:"query"`
	Skill        string `json:"skill"`
}

// ToolSummary returns the main argument of a tool_use block: the command
// for Bash, the file for Read/Write/Edit, the pattern for Grep/Glob and so
// on. Unknown tools and undecodable input give "".
func ToolSummary(b ContentBlock) string {
	if b.Type != BlockToolUse || len(b.Input) == 0 {
		return ""
	}
	var in toolInput
	if err := json.Unmarshal(b.Input, &in); err != nil {
		return ""
	}

	var s string
	switch b.Name {
	case ToolNameBash:
		s = in.Command
	case ToolNameRead, ToolNameWrite, ToolNameEdit:
		s = in.FilePath
	case ToolNameNotebookEdit:
		s = in.NotebookPath
	case ToolNameGrep, ToolNameGlob:
		s = in.Pattern
		if in.Path != "" {
			s += " in " + in.Path
		}
	case ToolNameTask:
		s = in.Description
	case ToolNameWebFetch:
		s = in.URL
	case ToolNameWebSearch:
		s = in.Query
	case ToolNameSkill:
		s = in.Skill
	}
	return strings.Join(strings.Fields(s), " ")
}
