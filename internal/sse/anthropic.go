package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/n0madic/go-minimax-gate/internal/toolcall"
	"github.com/n0madic/go-minimax-gate/internal/types"
)

// MessagesWriter emits Anthropic Messages API stream events for one response.
// Block indexes are assigned in emission order; at most one text or thinking
// block is open at a time.
type MessagesWriter struct {
	w          http.ResponseWriter
	flusher    http.Flusher
	id         string
	model      string
	started    bool
	blockOpen  bool
	blockType  string
	blockIndex int
	nextIndex  int
	sawToolUse bool
}

// NewMessagesWriter prepares the response for SSE streaming and returns the
// writer. Returns nil when the underlying writer cannot flush.
func NewMessagesWriter(w http.ResponseWriter, model string) *MessagesWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	return &MessagesWriter{
		w:       w,
		flusher: flusher,
		id:      "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		model:   model,
	}
}

// Start emits message_start with the given input token estimate. Later
// content methods call it implicitly, so handlers only need it to force an
// early header.
func (mw *MessagesWriter) Start(inputTokens int) {
	if mw.started {
		return
	}
	mw.started = true
	mw.writeEvent("message_start", map[string]any{
		"type": "message_start",
		"message": types.AnthropicMessageResponse{
			ID:      mw.id,
			Type:    "message",
			Role:    "assistant",
			Model:   mw.model,
			Content: []types.AnthropicContentOut{},
			Usage:   types.AnthropicUsage{InputTokens: inputTokens},
		},
	})
	mw.writeEvent("ping", map[string]any{"type": "ping"})
}

// Thinking streams reasoning text as a thinking block.
func (mw *MessagesWriter) Thinking(delta string) {
	if delta == "" {
		return
	}
	mw.Start(0)
	mw.openBlock("thinking")
	mw.writeEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": mw.blockIndex,
		"delta": struct {
			Type     string `json:"type"`
			Thinking string `json:"thinking"`
		}{"thinking_delta", delta},
	})
}

// Text streams visible text as a text block.
func (mw *MessagesWriter) Text(delta string) {
	if delta == "" {
		return
	}
	mw.Start(0)
	mw.openBlock("text")
	mw.writeEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": mw.blockIndex,
		"delta": struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"text_delta", delta},
	})
}

// ToolUse emits the decoded batch, one tool_use block per call. Arguments
// arrive via input_json_delta as clients expect.
func (mw *MessagesWriter) ToolUse(calls []toolcall.Call) {
	if len(calls) == 0 {
		return
	}
	mw.Start(0)
	mw.closeBlock()
	mw.sawToolUse = true

	for _, c := range calls {
		index := mw.nextIndex
		mw.nextIndex++
		mw.writeEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": index,
			"content_block": types.AnthropicContentOut{
				Type:  "tool_use",
				ID:    c.ID,
				Name:  c.Name,
				Input: map[string]any{},
			},
		})
		mw.writeEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": index,
			"delta": struct {
				Type        string `json:"type"`
				PartialJSON string `json:"partial_json"`
			}{"input_json_delta", c.Arguments},
		})
		mw.writeEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": index,
		})
	}
}

// Finish closes any open block and emits message_delta plus message_stop.
func (mw *MessagesWriter) Finish(stopReason string, outputTokens int) {
	mw.Start(0)
	mw.closeBlock()
	mw.writeEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": types.AnthropicUsage{OutputTokens: outputTokens},
	})
	mw.writeEvent("message_stop", map[string]any{"type": "message_stop"})
}

// SawToolUse reports whether a tool_use block was emitted.
func (mw *MessagesWriter) SawToolUse() bool {
	return mw.sawToolUse
}

// Error emits an in-stream error event.
func (mw *MessagesWriter) Error(errType, msg string) {
	mw.writeEvent("error", types.AnthropicErrorResponse{
		Type:  "error",
		Error: types.AnthropicErrorBody{Type: errType, Message: msg},
	})
}

func (mw *MessagesWriter) openBlock(blockType string) {
	if mw.blockOpen && mw.blockType == blockType {
		return
	}
	mw.closeBlock()

	mw.blockOpen = true
	mw.blockType = blockType
	mw.blockIndex = mw.nextIndex
	mw.nextIndex++

	block := types.AnthropicContentOut{Type: blockType}
	mw.writeEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         mw.blockIndex,
		"content_block": block,
	})
}

func (mw *MessagesWriter) closeBlock() {
	if !mw.blockOpen {
		return
	}
	mw.writeEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": mw.blockIndex,
	})
	mw.blockOpen = false
	mw.blockType = ""
}

func (mw *MessagesWriter) writeEvent(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(mw.w, "event: %s\n", event)
	fmt.Fprintf(mw.w, "data: %s\n\n", data)
	mw.flusher.Flush()
}
