// ABOUTME: Markdown formatting for agent notifications, status cards and input requests.
// ABOUTME: Shared 10-segment progress bar convention used across all message types.

package comms

import (
	"fmt"
	"sort"
	"strings"

	"github.com/2389/teamchat-mcp/internal/store"
)

// Message type values for AgentMessage.
const (
	MessageTypeStatus     = "status"
	MessageTypeQuestion   = "question"
	MessageTypeCompletion = "completion"
	MessageTypeError      = "error"
)

// Agent status values for SendAgentStatus.
const (
	StatusWorking = "working"
	StatusWaiting = "waiting"
	StatusBlocked = "blocked"
	StatusIdle    = "idle"
)

// messageEmoji maps message types to their channel marker.
var messageEmoji = map[string]string{
	MessageTypeStatus:     "ℹ️",
	MessageTypeQuestion:   "❓",
	MessageTypeCompletion: "✅",
	MessageTypeError:      "❌",
}

// statusEmoji maps agent statuses to their channel marker.
var statusEmoji = map[string]string{
	StatusWorking: "🔨",
	StatusWaiting: "⏳",
	StatusBlocked: "🚧",
	StatusIdle:    "💤",
}

// validMessageType reports whether t is a known message type.
func validMessageType(t string) bool {
	_, ok := messageEmoji[t]
	return ok
}

// validAgentStatus reports whether s is a known agent status.
func validAgentStatus(s string) bool {
	_, ok := statusEmoji[s]
	return ok
}

// ProgressBar renders a 10-segment textual bar. The filled count is
// round(progress/10), clamped to [0, 10]. Shared across notification and
// task lifecycle messages so bars look the same everywhere.
func ProgressBar(progress int) string {
	filled := (progress + 5) / 10
	if filled < 0 {
		filled = 0
	}
	if filled > 10 {
		filled = 10
	}
	return fmt.Sprintf("[%s%s] %d%%",
		strings.Repeat("█", filled),
		strings.Repeat("░", 10-filled),
		progress)
}

// Metadata keys with dedicated rendering in the trailing block. Everything
// else is dumped as "key: value" in sorted order.
const (
	metaKeyTask     = "task"
	metaKeyProgress = "progress"
	metaKeyDuration = "duration"
	metaKeyFiles    = "files"
)

// metadataBlock renders the well-known metadata fields as a trailing block
// under a message. Returns "" when there is nothing to show.
func metadataBlock(meta store.Meta) string {
	if len(meta) == 0 {
		return ""
	}

	var lines []string

	if task, ok := meta[metaKeyTask].(string); ok && task != "" {
		lines = append(lines, fmt.Sprintf("**Task:** %s", task))
	}
	if p, ok := metaNumber(meta[metaKeyProgress]); ok {
		lines = append(lines, ProgressBar(p))
	}
	if d, ok := meta[metaKeyDuration].(string); ok && d != "" {
		lines = append(lines, fmt.Sprintf("**Duration:** %s", d))
	}
	if files := metaStrings(meta[metaKeyFiles]); len(files) > 0 {
		lines = append(lines, fmt.Sprintf("**Files:** %s", strings.Join(files, ", ")))
	}

	// Remaining keys, sorted for stable output
	var rest []string
	for k := range meta {
		switch k {
		case metaKeyTask, metaKeyProgress, metaKeyDuration, metaKeyFiles:
		default:
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		lines = append(lines, fmt.Sprintf("%s: %v", k, meta[k]))
	}

	if len(lines) == 0 {
		return ""
	}
	return "\n\n" + strings.Join(lines, "\n")
}

// metaNumber extracts an integer from the shapes a Meta value may take
// after a JSON round trip.
func metaNumber(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// metaStrings extracts a string list from a Meta value.
func metaStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// MetaInline renders a Meta as a single "key: value, key: value" line in
// sorted key order. Used where a multi-line block would be too heavy, such
// as completion metrics.
func MetaInline(meta store.Meta) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, meta[k]))
	}
	return strings.Join(parts, ", ")
}

// formatOptions renders a numbered option list for an input request.
func formatOptions(options []string) string {
	if len(options) == 0 {
		return ""
	}
	var b strings.Builder
	for i, opt := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
	}
	return "\n" + b.String()
}
