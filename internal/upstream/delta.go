package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-minimax-gate/internal/types"
)

// Delta is the interesting part of one streaming chunk.
type Delta struct {
	Content          string
	ReasoningContent string
	FinishReason     string
	ToolCalls        []types.ToolCall
}

// ParseChunkDelta extracts the first choice's delta from a streaming chunk.
// Returns ok=false for chunks without choices (keep-alives, usage-only).
func ParseChunkDelta(data []byte) (Delta, bool) {
	choice := gjson.GetBytes(data, "choices.0")
	if !choice.Exists() {
		return Delta{}, false
	}
	d := Delta{
		Content:          choice.Get("delta.content").String(),
		ReasoningContent: choice.Get("delta.reasoning_content").String(),
		FinishReason:     choice.Get("finish_reason").String(),
	}
	if raw := choice.Get("delta.tool_calls"); raw.Exists() {
		json.Unmarshal([]byte(raw.Raw), &d.ToolCalls)
	}
	return d, true
}

// Message is the first choice of a non-streaming completion.
type Message struct {
	Content          string
	ReasoningContent string
	FinishReason     string
	ToolCalls        []types.ToolCall
	PromptTokens     int
	CompletionTokens int
}

// ParseCompletion extracts the first choice from a non-streaming response.
func ParseCompletion(body []byte) (Message, error) {
	choice := gjson.GetBytes(body, "choices.0")
	if !choice.Exists() {
		return Message{}, fmt.Errorf("backend response has no choices")
	}
	msg := Message{
		Content:          choice.Get("message.content").String(),
		ReasoningContent: choice.Get("message.reasoning_content").String(),
		FinishReason:     choice.Get("finish_reason").String(),
		PromptTokens:     int(gjson.GetBytes(body, "usage.prompt_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(body, "usage.completion_tokens").Int()),
	}
	if raw := choice.Get("message.tool_calls"); raw.Exists() {
		json.Unmarshal([]byte(raw.Raw), &msg.ToolCalls)
	}
	return msg, nil
}
