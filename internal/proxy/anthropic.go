package proxy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/n0madic/go-minimax-gate/internal/reasoning"
	"github.com/n0madic/go-minimax-gate/internal/sse"
	"github.com/n0madic/go-minimax-gate/internal/stream"
	"github.com/n0madic/go-minimax-gate/internal/toolcall"
	"github.com/n0madic/go-minimax-gate/internal/types"
	"github.com/n0madic/go-minimax-gate/internal/upstream"
)

// lengthStopNotice replaces an empty reply when generation hit the token
// limit before any visible text was produced.
const lengthStopNotice = "(MiniMax stopped before it could produce a visible reply. Try increasing `max_tokens`.)"

// Requests for translated models with a conservative client-side max_tokens
// get bumped: reasoning tokens count against the budget and small limits
// starve the visible reply.
const (
	maxTokensBumpThreshold = 8192
	maxTokensBumped        = 32768
	maxThinkingTokens      = 32768
)

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "could not read request body")
		return
	}

	var req types.AnthropicMessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: "+err.Error())
		return
	}
	if req.Model == "" {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "messages is required")
		return
	}

	systemText, err := types.ParseSystemText(req.System)
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	chatMsgs, err := types.AnthropicMessagesToChat(req.Messages)
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if systemText != "" {
		chatMsgs = append([]types.ChatMessage{{Role: "system", Content: systemText}}, chatMsgs...)
	}

	translated := s.cfg.IsTranslatedModel(req.Model)
	sessionID := extractSessionID(r, "")
	repair := s.sessions.InjectOrRepair(chatMsgs, sessionID, s.cfg.RequireSessionForRepair)
	if repair.Repaired {
		slog.Info("history repaired", repair.LogAttrs()...)
	} else if s.cfg.Debug {
		slog.Debug("history repair skipped", repair.LogAttrs()...)
	}
	msgs := NormalizeHistory(TransformToolMessages(repair.Messages))

	maxTokens := req.MaxTokens
	if translated && maxTokens > 0 && maxTokens <= maxTokensBumpThreshold {
		maxTokens = maxTokensBumped
	}

	base := map[string]any{"model": req.Model}
	if req.Temperature != nil {
		base["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		base["top_p"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		base["stop"] = req.StopSequences
	}
	if tools := types.AnthropicToolsToChat(req.Tools); len(tools) > 0 {
		base["tools"] = tools
	}
	if tc := types.AnthropicToolChoiceToChat(req.ToolChoice); tc != nil {
		base["tool_choice"] = tc
	}
	if translated {
		budget := 0
		if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
			budget = req.Thinking.BudgetTokens
		} else if maxTokens > 0 {
			budget = min(maxTokens/2, maxThinkingTokens)
		}
		if budget > 0 {
			base["thinking"] = map[string]any{"max_thinking_tokens": budget}
		}
	}

	rawBase, err := json.Marshal(base)
	if err != nil {
		writeAnthropicError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}
	payload, err := upstream.BuildChatPayload(rawBase, msgs, upstream.PayloadOptions{
		Stream:        req.Stream,
		BannedStrings: s.bannedStrings(),
		MaxTokens:     maxTokens,
	})
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	schemas := types.SchemasFromAnthropicTools(req.Tools)
	if req.Stream {
		s.streamMessages(w, r, payload, req, schemas, sessionID)
		return
	}
	s.completeMessages(w, r, payload, req, schemas, sessionID)
}

func writeAnthropicBackendError(w http.ResponseWriter, err error) {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		writeAnthropicError(w, statusErr.Code, "api_error", statusErr.Body)
		return
	}
	writeAnthropicError(w, http.StatusBadGateway, "api_error", err.Error())
}

func (s *Server) completeMessages(w http.ResponseWriter, r *http.Request, payload []byte, req types.AnthropicMessagesRequest, schemas []toolcall.Schema, sessionID string) {
	respBody, err := s.backend.ChatCompletion(r.Context(), payload)
	if err != nil {
		writeAnthropicBackendError(w, err)
		return
	}
	msg, err := upstream.ParseCompletion(respBody)
	if err != nil {
		writeAnthropicError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	raw := assembleRawContent(msg)
	result := toolcall.Decode(raw, schemas)

	calls := toDecodedCalls(msg.ToolCalls)
	if len(calls) == 0 && result.Called {
		calls, _ = toolcall.ValidateCalls(result.Calls, schemas)
	}
	reasoningText, visible := reasoning.SplitThink(result.Content)
	reasoningText = strings.TrimSpace(reasoningText)
	visible = strings.TrimSpace(visible)

	blocks := make([]types.AnthropicContentOut, 0, len(calls)+2)
	if s.cfg.EnableThinkingBlocks && reasoningText != "" {
		blocks = append(blocks, types.AnthropicContentOut{Type: "thinking", Thinking: reasoningText})
	}
	if visible != "" {
		blocks = append(blocks, types.AnthropicContentOut{Type: "text", Text: visible})
	}
	for _, c := range calls {
		blocks = append(blocks, types.AnthropicContentOut{
			Type:  "tool_use",
			ID:    c.ID,
			Name:  c.Name,
			Input: argsToMap(c.Arguments),
		})
	}

	stopReason := mapAnthropicStopReason(msg.FinishReason)
	if len(calls) > 0 {
		stopReason = "tool_use"
	}
	if msg.FinishReason == "length" && visible == "" && len(calls) == 0 {
		blocks = append(blocks, types.AnthropicContentOut{Type: "text", Text: lengthStopNotice})
	}

	resp := types.AnthropicMessageResponse{
		ID:         "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type:       "message",
		Role:       "assistant",
		Model:      req.Model,
		Content:    blocks,
		StopReason: types.StringPtr(stopReason),
		Usage: types.AnthropicUsage{
			InputTokens:  msg.PromptTokens,
			OutputTokens: msg.CompletionTokens,
		},
	}
	writeJSON(w, http.StatusOK, resp)

	s.captureAssistant(sessionID, raw, reasoningText, calls, s.cfg.EnableThinkingBlocks)
}

func argsToMap(args string) map[string]any {
	out := make(map[string]any)
	if err := json.Unmarshal([]byte(args), &out); err != nil {
		return map[string]any{}
	}
	return out
}

func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request, payload []byte, req types.AnthropicMessagesRequest, schemas []toolcall.Schema, sessionID string) {
	resp, err := s.backend.ChatCompletionStream(r.Context(), payload)
	if err != nil {
		writeAnthropicBackendError(w, err)
		return
	}
	defer resp.Body.Close()

	mw := sse.NewMessagesWriter(w, req.Model)
	if mw == nil {
		writeAnthropicError(w, http.StatusInternalServerError, "api_error", "streaming unsupported by connection")
		return
	}
	mw.Start(0)
	reader := upstream.NewReader(resp.Body)

	first, ok := firstDelta(reader)
	if !ok {
		mw.Text(lengthStopNotice)
		mw.Finish("end_turn", 0)
		return
	}

	var raw, reasoningText string
	var calls []toolcall.Call
	if first.ReasoningContent != "" {
		raw, reasoningText, calls = s.streamMessagesStructured(mw, reader, first)
	} else {
		raw, reasoningText, calls = s.streamMessagesParsed(mw, reader, first, schemas)
	}
	s.captureAssistant(sessionID, raw, reasoningText, calls, s.cfg.EnableThinkingBlocks)
}

func (s *Server) streamMessagesStructured(mw *sse.MessagesWriter, reader *upstream.Reader, first upstream.Delta) (string, string, []toolcall.Call) {
	var raw, reasoningAll strings.Builder
	var thinkStarted, thinkClosed, textEmitted bool
	toolBuf := make(map[int]*types.ToolCall)
	finish := ""

	process := func(d upstream.Delta) bool {
		if rc := d.ReasoningContent; rc != "" {
			if !thinkStarted {
				thinkStarted = true
				raw.WriteString(reasoning.ThinkOpen + "\n")
			}
			raw.WriteString(rc)
			reasoningAll.WriteString(rc)
			if s.cfg.EnableThinkingBlocks {
				mw.Thinking(rc)
			}
		} else if thinkStarted && !thinkClosed {
			raw.WriteString("\n" + reasoning.ThinkClose + "\n")
			thinkClosed = true
		}
		if d.Content != "" {
			raw.WriteString(d.Content)
			mw.Text(d.Content)
			textEmitted = true
		}
		for _, tc := range d.ToolCalls {
			mergeToolDelta(toolBuf, tc)
		}
		if d.FinishReason != "" {
			finish = d.FinishReason
			return true
		}
		return false
	}

	if !process(first) {
		for {
			data, err := reader.Next()
			if err != nil {
				break
			}
			d, ok := upstream.ParseChunkDelta(data)
			if !ok {
				continue
			}
			if process(d) {
				break
			}
		}
	}
	if thinkStarted && !thinkClosed {
		raw.WriteString("\n" + reasoning.ThinkClose + "\n")
	}

	calls := mergedCalls(toolBuf)
	if len(calls) > 0 {
		mw.ToolUse(calls)
	} else if !textEmitted {
		mw.Text(lengthStopNotice)
	}

	stopReason := mapAnthropicStopReason(finish)
	if len(calls) > 0 {
		stopReason = "tool_use"
	}
	mw.Finish(stopReason, 0)
	return raw.String(), reasoningAll.String(), calls
}

func (s *Server) streamMessagesParsed(mw *sse.MessagesWriter, reader *upstream.Reader, first upstream.Delta, schemas []toolcall.Schema) (string, string, []toolcall.Call) {
	p := stream.NewParser(schemas)
	var raw, reasoningAll strings.Builder
	var calls []toolcall.Call
	var textEmitted bool
	finish := ""

	emit := func(ev *stream.Event) {
		if ev == nil {
			return
		}
		raw.WriteString(ev.RawDelta)
		reasoningAll.WriteString(ev.ReasoningDelta)
		if s.cfg.EnableThinkingBlocks {
			mw.Thinking(ev.ReasoningDelta)
		}

		if ev.Kind == stream.KindToolCalls {
			kept, _ := toolcall.ValidateCalls(ev.ToolCalls, schemas)
			if len(kept) > 0 {
				// Leading text bundled with a same-fragment batch still has
				// to reach the client before the tool_use blocks.
				if ev.VisibleDelta != "" {
					mw.Text(ev.VisibleDelta)
					textEmitted = true
				}
				calls = append(calls, kept...)
				mw.ToolUse(kept)
				return
			}
		}
		if ev.VisibleDelta != "" {
			mw.Text(ev.VisibleDelta)
			textEmitted = true
		}
	}

	process := func(d upstream.Delta) bool {
		if d.Content != "" {
			emit(p.ProcessChunk(d.Content))
		}
		if d.FinishReason != "" {
			finish = d.FinishReason
			return true
		}
		return false
	}

	if !process(first) {
		for {
			data, err := reader.Next()
			if err != nil {
				break
			}
			d, ok := upstream.ParseChunkDelta(data)
			if !ok {
				continue
			}
			if process(d) {
				break
			}
		}
	}
	emit(p.FlushPending())

	if len(calls) == 0 && !textEmitted {
		mw.Text(lengthStopNotice)
	}
	stopReason := mapAnthropicStopReason(finish)
	if len(calls) > 0 {
		stopReason = "tool_use"
	}
	mw.Finish(stopReason, 0)
	return raw.String(), reasoningAll.String(), calls
}
