package proxy

import (
	"fmt"
	"strings"

	"github.com/n0madic/go-minimax-gate/internal/reasoning"
	"github.com/n0madic/go-minimax-gate/internal/toolcall"
	"github.com/n0madic/go-minimax-gate/internal/types"
)

// NormalizeHistory rewrites assistant turns so the backend template sees the
// same raw text the model originally produced: reasoning goes back between
// think markers and tool calls are re-encoded as XML blocks appended to the
// content. Other roles pass through unchanged. The input slice is not
// mutated.
func NormalizeHistory(messages []types.ChatMessage) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != "assistant" {
			out = append(out, msg)
			continue
		}
		out = append(out, normalizeAssistant(msg))
	}
	return out
}

func normalizeAssistant(msg types.ChatMessage) types.ChatMessage {
	content := types.ContentText(msg.Content)

	if reasoningText := joinReasoningDetails(msg.ReasoningDetails); reasoningText != "" {
		block := reasoning.ThinkOpen + "\n" + reasoningText + "\n" + reasoning.ThinkClose
		if content != "" && !strings.HasPrefix(content, "\n") {
			content = block + "\n" + content
		} else {
			content = block + content
		}
	} else if strings.Contains(content, reasoning.ThinkClose) {
		content = reasoning.EnsureThinkWrapped(content)
	}

	if len(msg.ToolCalls) > 0 {
		xml := toolcall.Encode(toDecodedCalls(msg.ToolCalls))
		if xml != "" && !strings.Contains(content, toolcall.BlockStart) {
			if stripped := strings.TrimRight(content, " \t\r\n"); stripped != "" {
				content = stripped + "\n\n" + xml
			} else {
				content = xml
			}
		}
	}

	msg.Content = content
	msg.ReasoningContent = ""
	msg.ReasoningDetails = nil
	return msg
}

func joinReasoningDetails(details []types.ReasoningDetail) string {
	var parts []string
	for _, d := range details {
		if d.Text != "" {
			parts = append(parts, d.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// TransformToolMessages converts role "tool" messages into user messages the
// backend template understands, labelling each result with the tool name
// recorded in the preceding assistant turn. The Name field marks the
// converted message so later passes can still recognize it.
func TransformToolMessages(messages []types.ChatMessage) []types.ChatMessage {
	callNames := make(map[string]string)
	out := make([]types.ChatMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "assistant" {
			for _, tc := range msg.ToolCalls {
				if tc.ID != "" {
					callNames[tc.ID] = tc.Function.Name
				}
			}
		}
		if msg.Role != "tool" {
			out = append(out, msg)
			continue
		}

		name := callNames[msg.ToolCallID]
		if name == "" {
			name = msg.Name
		}
		if name == "" {
			name = "tool"
		}
		out = append(out, types.ChatMessage{
			Role:    "user",
			Name:    "tool_result",
			Content: fmt.Sprintf("Tool Result (%s):\n%s", name, types.ContentText(msg.Content)),
		})
	}
	return out
}
