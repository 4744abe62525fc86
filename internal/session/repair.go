package session

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/n0madic/go-minimax-gate/internal/reasoning"
	"github.com/n0madic/go-minimax-gate/internal/types"
)

// RepairResult reports what InjectOrRepair did to the incoming history.
type RepairResult struct {
	Messages   []types.ChatMessage
	Repaired   bool
	Reason     string
	Skipped    bool
	SkipReason string
}

// LogAttrs returns structured logging attributes for the result.
func (r RepairResult) LogAttrs() []any {
	return []any{
		slog.Bool("repaired", r.Repaired),
		slog.String("reason", r.Reason),
		slog.Bool("skipped", r.Skipped),
		slog.String("skip_reason", r.SkipReason),
		slog.Int("message_count", len(r.Messages)),
	}
}

// InjectOrRepair checks whether the client dropped the assistant turn the
// store last recorded for this session and re-inserts it when missing. The
// stored turn goes before the first tool-result message so tool results
// stay adjacent to the tool calls that produced them. The input slice is
// never mutated.
func (s *Store) InjectOrRepair(messages []types.ChatMessage, sessionID string, requireSession bool) RepairResult {
	if !s.enabled {
		return RepairResult{Messages: messages, Skipped: true, SkipReason: "disabled"}
	}

	if sessionID == "" {
		skipReason := "missing_session_id_optional"
		if requireSession {
			skipReason = "missing_session_id"
		}
		return RepairResult{Messages: messages, Skipped: true, SkipReason: skipReason}
	}

	stored := s.GetLastAssistant(sessionID)
	if stored == nil {
		return RepairResult{Messages: messages, Skipped: true, SkipReason: "no_history"}
	}

	if assistantInHistory(messages, *stored) {
		return RepairResult{Messages: messages, Skipped: true, SkipReason: "assistant_present"}
	}

	insertIndex := len(messages)
	for i, msg := range messages {
		if msg.Role == "tool" || (msg.Role == "user" && msg.Name == "tool_result") {
			insertIndex = i
			break
		}
	}

	repaired := make([]types.ChatMessage, 0, len(messages)+1)
	repaired = append(repaired, messages[:insertIndex]...)
	repaired = append(repaired, *stored)
	repaired = append(repaired, messages[insertIndex:]...)
	return RepairResult{Messages: repaired, Repaired: true, Reason: "assistant_injected"}
}

// assistantInHistory reports whether the stored assistant message already
// appears among the incoming assistant messages, comparing normalized forms
// so that reasoning replayed as reasoning_details matches reasoning stored
// inline in the content.
func assistantInHistory(messages []types.ChatMessage, stored types.ChatMessage) bool {
	want := normalizeAssistant(stored)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		if reflect.DeepEqual(normalizeAssistant(messages[i]), want) {
			return true
		}
	}
	return false
}

// normalizeAssistant folds reasoning_details into the content text so both
// replay styles compare equal.
func normalizeAssistant(msg types.ChatMessage) types.ChatMessage {
	out := msg
	if out.Role != "assistant" {
		return out
	}

	var reasoningText strings.Builder
	for _, d := range out.ReasoningDetails {
		reasoningText.WriteString(d.Text)
	}
	out.ReasoningDetails = nil
	out.ReasoningContent = ""

	content := types.ContentText(out.Content)
	if reasoningText.Len() > 0 {
		block := reasoning.ThinkOpen + reasoningText.String() + reasoning.ThinkClose
		if content != "" && !strings.HasPrefix(content, "\n") {
			block += "\n"
		}
		content = block + content
	} else if content != "" && strings.Contains(content, reasoning.ThinkClose) {
		content = reasoning.EnsureThinkWrapped(content)
	}
	out.Content = content

	return out
}
