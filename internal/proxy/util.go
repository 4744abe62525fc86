package proxy

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/n0madic/go-minimax-gate/internal/toolcall"
	"github.com/n0madic/go-minimax-gate/internal/types"
)

// maxBodyBytes limits the size of incoming request bodies to prevent memory
// exhaustion.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	slog.Error("request failed", "status", status, "error", message)
	writeJSON(w, status, types.ErrorResponse{Error: types.ErrorDetail{Message: message}})
}

func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	slog.Error("request failed", "status", status, "error", message)
	writeJSON(w, status, types.AnthropicErrorResponse{
		Type:  "error",
		Error: types.AnthropicErrorBody{Type: errType, Message: message},
	})
}

// readRequestBody reads the size-limited request body.
func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, false
	}
	return body, true
}

// extractSessionID resolves the session identifier from the X-Session-Id
// header, the conversation_id query parameter, or the request body, in that
// order.
func extractSessionID(r *http.Request, bodyConversationID string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Session-Id")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("conversation_id")); v != "" {
		return v
	}
	return strings.TrimSpace(bodyConversationID)
}

// toTypesToolCalls converts decoded calls to the OpenAI wire shape.
func toTypesToolCalls(calls []toolcall.Call) []types.ToolCall {
	if len(calls) == 0 {
		return nil
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
	return out
}

// toDecodedCalls converts OpenAI wire tool calls to the decoded shape.
func toDecodedCalls(calls []types.ToolCall) []toolcall.Call {
	if len(calls) == 0 {
		return nil
	}
	out := make([]toolcall.Call, len(calls))
	for i, c := range calls {
		out[i] = toolcall.Call{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments}
	}
	return out
}

// mapAnthropicStopReason maps an OpenAI finish reason to the Messages API
// stop reason.
func mapAnthropicStopReason(finishReason string) string {
	switch finishReason {
	case "stop", "":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return finishReason
	}
}
