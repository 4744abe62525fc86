package proxy

import (
	"strings"
	"testing"

	"github.com/n0madic/go-minimax-gate/internal/types"
)

func TestNormalizeHistoryFoldsReasoningDetails(t *testing.T) {
	msgs := []types.ChatMessage{
		{Role: "user", Content: "hi"},
		{
			Role:    "assistant",
			Content: "Hello!",
			ReasoningDetails: []types.ReasoningDetail{
				{Type: "chain_of_thought", Text: "greeting back"},
			},
		},
	}

	out := NormalizeHistory(msgs)
	if out[0].Content != "hi" {
		t.Errorf("user message changed: %v", out[0].Content)
	}

	content, _ := out[1].Content.(string)
	want := "<think>\ngreeting back\n</think>\nHello!"
	if content != want {
		t.Errorf("content = %q, want %q", content, want)
	}
	if out[1].ReasoningDetails != nil || out[1].ReasoningContent != "" {
		t.Error("reasoning fields must be cleared after folding")
	}
}

func TestNormalizeHistoryWrapsDanglingClose(t *testing.T) {
	msgs := []types.ChatMessage{
		{Role: "assistant", Content: "planning</think>\ndone"},
	}
	out := NormalizeHistory(msgs)
	content, _ := out[0].Content.(string)
	if !strings.HasPrefix(content, "<think>") {
		t.Errorf("missing opening marker: %q", content)
	}
}

func TestNormalizeHistoryEncodesToolCalls(t *testing.T) {
	msgs := []types.ChatMessage{
		{
			Role:    "assistant",
			Content: "Let me check.",
			ToolCalls: []types.ToolCall{
				{ID: "call_1", Type: "function", Function: types.FunctionCall{
					Name: "get_weather", Arguments: `{"location":"Paris"}`,
				}},
			},
		},
	}
	out := NormalizeHistory(msgs)
	content, _ := out[0].Content.(string)
	if !strings.Contains(content, "<minimax:tool_call>") {
		t.Fatalf("missing tool block: %q", content)
	}
	if !strings.Contains(content, `<invoke name="get_weather">`) {
		t.Errorf("missing invoke: %q", content)
	}
	if !strings.HasPrefix(content, "Let me check.\n\n") {
		t.Errorf("content not separated from block: %q", content)
	}
}

func TestNormalizeHistorySkipsEncodingWhenBlockPresent(t *testing.T) {
	inline := "done\n\n<minimax:tool_call>\n<invoke name=\"f\">\n</invoke>\n</minimax:tool_call>"
	msgs := []types.ChatMessage{
		{
			Role:    "assistant",
			Content: inline,
			ToolCalls: []types.ToolCall{
				{ID: "call_1", Type: "function", Function: types.FunctionCall{Name: "f", Arguments: "{}"}},
			},
		},
	}
	out := NormalizeHistory(msgs)
	content, _ := out[0].Content.(string)
	if strings.Count(content, "<minimax:tool_call>") != 1 {
		t.Errorf("block duplicated: %q", content)
	}
}

func TestTransformToolMessages(t *testing.T) {
	msgs := []types.ChatMessage{
		{
			Role: "assistant",
			ToolCalls: []types.ToolCall{
				{ID: "call_1", Type: "function", Function: types.FunctionCall{Name: "get_weather", Arguments: "{}"}},
			},
		},
		{Role: "tool", ToolCallID: "call_1", Content: `{"temp": 21}`},
	}

	out := TransformToolMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("got %d messages", len(out))
	}
	result := out[1]
	if result.Role != "user" || result.Name != "tool_result" {
		t.Errorf("role/name = %q/%q", result.Role, result.Name)
	}
	content, _ := result.Content.(string)
	if content != "Tool Result (get_weather):\n{\"temp\": 21}" {
		t.Errorf("content = %q", content)
	}
}

func TestTransformToolMessagesUnknownCallID(t *testing.T) {
	out := TransformToolMessages([]types.ChatMessage{
		{Role: "tool", ToolCallID: "call_missing", Content: "ok"},
	})
	content, _ := out[0].Content.(string)
	if content != "Tool Result (tool):\nok" {
		t.Errorf("content = %q", content)
	}
}
