// Package transcript renders session histories as markdown, for export
// to a file and for preview inside the picker.
package transcript

import (
	"fmt"
	"strings"
	"time"

	"chen/internal/session"
)

// Toggles selects which event kinds appear in a rendered transcript.
// User and assistant messages are always included.
type Toggles struct {
	IncludeTools  bool
	IncludeSystem bool
}

// Filter drops the events the toggles exclude, along with events that
// carry no text at all.
func Filter(events []session.MessageEvent, toggles Toggles) []session.MessageEvent {
	filtered := make([]session.MessageEvent, 0, len(events))
	for _, ev := range events {
		if strings.TrimSpace(ev.Content) == "" && len(ev.ToolCalls) == 0 {
			continue
		}
		switch ev.Role {
		case session.RoleUser, session.RoleAssistant:
			filtered = append(filtered, ev)
		case session.RoleTool:
			if toggles.IncludeTools {
				filtered = append(filtered, ev)
			}
		case session.RoleSystem:
			if toggles.IncludeSystem {
				filtered = append(filtered, ev)
			}
		default:
			if toggles.IncludeSystem {
				filtered = append(filtered, ev)
			}
		}
	}
	return filtered
}

// BuildMarkdown renders the filtered events as a markdown conversation.
func BuildMarkdown(events []session.MessageEvent, toggles Toggles) string {
	var b strings.Builder
	for _, ev := range Filter(events, toggles) {
		content := strings.TrimSpace(ev.Content)

		switch ev.Role {
		case session.RoleUser:
			b.WriteString("## You\n\n")
			b.WriteString(content + "\n\n")
		case session.RoleAssistant:
			b.WriteString("## Chen\n\n")
			b.WriteString(content + "\n\n")
		case session.RoleTool:
			for _, tc := range ev.ToolCalls {
				title := "## Tool"
				if tc.Name != "" {
					title += " (" + tc.Name + ")"
				}
				b.WriteString(title + "\n\n")
				b.WriteString("```text\n")
				if len(tc.Arguments) > 0 {
					b.WriteString(string(tc.Arguments) + "\n")
				}
				if strings.TrimSpace(tc.Result) != "" {
					b.WriteString(strings.TrimSpace(tc.Result) + "\n")
				}
				b.WriteString("```\n\n")
			}
			if content != "" && len(ev.ToolCalls) == 0 {
				b.WriteString("## Tool\n\n```text\n" + content + "\n```\n\n")
			}
		default:
			b.WriteString("## System\n\n")
			b.WriteString("```text\n" + content + "\n```\n\n")
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

// BuildSessionMarkdown wraps a rendered transcript with a header block of
// session metadata.
func BuildSessionMarkdown(meta session.Metadata, transcript string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Chen session " + meta.ID + "\n\n")
	b.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	b.WriteString("```text\n")
	b.WriteString("title: " + safeValue(meta.Title) + "\n")
	b.WriteString(fmt.Sprintf("turn_count: %d\n", meta.TurnCount))
	b.WriteString("created: " + meta.CreatedAt.Format(time.RFC3339) + "\n")
	b.WriteString("```\n\n")
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func safeValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "n/a"
	}
	return s
}
