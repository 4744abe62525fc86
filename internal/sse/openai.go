// Package sse renders gateway output as OpenAI chat-completion or Anthropic
// Messages server-sent events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/n0madic/go-minimax-gate/internal/toolcall"
	"github.com/n0madic/go-minimax-gate/internal/types"
)

// ChatWriter emits OpenAI chat.completion.chunk events for one response.
type ChatWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	id       string
	model    string
	created  int64
	roleSent bool
}

// NewChatWriter prepares the response for SSE streaming and returns the
// writer. Returns nil when the underlying writer cannot flush.
func NewChatWriter(w http.ResponseWriter, model string) *ChatWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	return &ChatWriter{
		w:       w,
		flusher: flusher,
		id:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		model:   model,
		created: time.Now().Unix(),
	}
}

// Content emits a visible-content delta.
func (cw *ChatWriter) Content(text string) {
	if text == "" {
		return
	}
	cw.writeChunk(types.ChatDelta{Role: cw.role(), Content: text}, nil, nil)
}

// Reasoning emits a reasoning_content delta.
func (cw *ChatWriter) Reasoning(text string) {
	if text == "" {
		return
	}
	cw.writeChunk(types.ChatDelta{Role: cw.role(), ReasoningContent: text}, nil, nil)
}

// ToolCalls emits the decoded batch as a single delta.
func (cw *ChatWriter) ToolCalls(calls []toolcall.Call) {
	if len(calls) == 0 {
		return
	}
	out := make([]types.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = types.ToolCall{
			Index:    i,
			ID:       c.ID,
			Type:     "function",
			Function: types.FunctionCall{Name: c.Name, Arguments: c.Arguments},
		}
	}
	cw.writeChunk(types.ChatDelta{Role: cw.role(), ToolCalls: out}, nil, nil)
}

// Finish emits the finish_reason chunk with optional usage.
func (cw *ChatWriter) Finish(reason string, usage *types.Usage) {
	cw.writeChunk(types.ChatDelta{}, types.StringPtr(reason), usage)
}

// Error emits an error payload inside the stream.
func (cw *ChatWriter) Error(msg string) {
	data, err := json.Marshal(types.ErrorResponse{Error: types.ErrorDetail{Message: msg}})
	if err != nil {
		return
	}
	fmt.Fprintf(cw.w, "data: %s\n\n", data)
	cw.flusher.Flush()
}

// Done terminates the stream.
func (cw *ChatWriter) Done() {
	fmt.Fprint(cw.w, "data: [DONE]\n\n")
	cw.flusher.Flush()
}

func (cw *ChatWriter) role() string {
	if cw.roleSent {
		return ""
	}
	cw.roleSent = true
	return "assistant"
}

func (cw *ChatWriter) writeChunk(delta types.ChatDelta, finishReason *string, usage *types.Usage) {
	chunk := types.ChatCompletionChunk{
		ID:      cw.id,
		Object:  "chat.completion.chunk",
		Created: cw.created,
		Model:   cw.model,
		Choices: []types.ChatChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(cw.w, "data: %s\n\n", data)
	cw.flusher.Flush()
}
