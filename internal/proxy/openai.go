package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/n0madic/go-minimax-gate/internal/reasoning"
	"github.com/n0madic/go-minimax-gate/internal/sse"
	"github.com/n0madic/go-minimax-gate/internal/stream"
	"github.com/n0madic/go-minimax-gate/internal/toolcall"
	"github.com/n0madic/go-minimax-gate/internal/types"
	"github.com/n0madic/go-minimax-gate/internal/upstream"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	var req types.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	if !s.cfg.IsTranslatedModel(req.Model) {
		s.passthroughChat(w, r, body, req.Stream)
		return
	}

	sessionID := extractSessionID(r, req.ConversationID)
	repair := s.sessions.InjectOrRepair(req.Messages, sessionID, s.cfg.RequireSessionForRepair)
	if repair.Repaired {
		slog.Info("history repaired", repair.LogAttrs()...)
	} else if s.cfg.Debug {
		slog.Debug("history repair skipped", repair.LogAttrs()...)
	}

	msgs := NormalizeHistory(TransformToolMessages(repair.Messages))
	payload, err := upstream.BuildChatPayload(body, msgs, upstream.PayloadOptions{
		Stream:        req.Stream,
		BannedStrings: s.bannedStrings(),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not build backend payload: "+err.Error())
		return
	}

	schemas := types.SchemasFromChatTools(req.Tools)
	split := s.cfg.EnableReasoningSplit
	if req.ReasoningSplit != nil {
		split = *req.ReasoningSplit
	}

	if req.Stream {
		s.streamChat(w, r, payload, req, schemas, sessionID, split)
		return
	}
	s.completeChat(w, r, payload, req, schemas, sessionID, split)
}

// bannedStrings returns the configured sampler-level block list when
// character blocking is enabled.
func (s *Server) bannedStrings() []string {
	if !s.cfg.EnableCharBlocking {
		return nil
	}
	return s.cfg.BannedStrings
}

// passthroughChat forwards requests for models that need no translation. Only
// the gateway-specific fields are removed from the body.
func (s *Server) passthroughChat(w http.ResponseWriter, r *http.Request, body []byte, streaming bool) {
	payload, err := upstream.StripGatewayFields(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if !streaming {
		respBody, err := s.backend.ChatCompletion(r.Context(), payload)
		if err != nil {
			writeBackendError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(respBody)
		return
	}

	resp, err := s.backend.ChatCompletionStream(r.Context(), payload)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	defer resp.Body.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	io.Copy(flushWriter{w, flusher}, resp.Body)
}

type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

func writeBackendError(w http.ResponseWriter, err error) {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		writeError(w, statusErr.Code, statusErr.Body)
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

// streamChat translates a backend SSE stream into client chunks. The first
// delta-bearing chunk selects the mode: backends that emit structured
// reasoning_content deltas get reassembled directly, backends that emit raw
// marker text go through the stream parser.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, payload []byte, req types.ChatCompletionRequest, schemas []toolcall.Schema, sessionID string, split bool) {
	resp, err := s.backend.ChatCompletionStream(r.Context(), payload)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	defer resp.Body.Close()

	cw := sse.NewChatWriter(w, req.Model)
	if cw == nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}
	reader := upstream.NewReader(resp.Body)

	first, ok := firstDelta(reader)
	if !ok {
		cw.Finish("stop", nil)
		cw.Done()
		return
	}

	var raw, reasoningText string
	var calls []toolcall.Call
	if first.ReasoningContent != "" {
		raw, reasoningText, calls = s.streamStructured(cw, reader, first, split)
	} else {
		raw, reasoningText, calls = s.streamParsed(cw, reader, first, schemas, split)
	}
	s.captureAssistant(sessionID, raw, reasoningText, calls, split)
}

// firstDelta reads until the first chunk carrying a choice.
func firstDelta(reader *upstream.Reader) (upstream.Delta, bool) {
	for {
		data, err := reader.Next()
		if err != nil {
			return upstream.Delta{}, false
		}
		if d, ok := upstream.ParseChunkDelta(data); ok {
			return d, true
		}
	}
}

// streamStructured handles backends that already separate reasoning from
// content. Reasoning deltas are re-wrapped in think markers for raw-mode
// clients; structured tool-call deltas are merged and emitted as one batch.
func (s *Server) streamStructured(cw *sse.ChatWriter, reader *upstream.Reader, first upstream.Delta, split bool) (string, string, []toolcall.Call) {
	var raw, reasoningAll strings.Builder
	var thinkStarted, thinkClosed bool
	toolBuf := make(map[int]*types.ToolCall)
	finish := ""

	closeThink := func() {
		if !thinkStarted || thinkClosed {
			return
		}
		closing := "\n" + reasoning.ThinkClose + "\n"
		raw.WriteString(closing)
		thinkClosed = true
		if !split {
			cw.Content(closing)
		}
	}

	process := func(d upstream.Delta) bool {
		if rc := d.ReasoningContent; rc != "" {
			addition := rc
			if !thinkStarted {
				thinkStarted = true
				addition = reasoning.ThinkOpen + "\n" + rc
			}
			raw.WriteString(addition)
			reasoningAll.WriteString(rc)
			if split {
				cw.Reasoning(rc)
			} else {
				cw.Content(addition)
			}
		} else if d.Content != "" || len(d.ToolCalls) > 0 || d.FinishReason != "" {
			closeThink()
		}
		if d.Content != "" {
			raw.WriteString(d.Content)
			cw.Content(d.Content)
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
	closeThink()

	calls := mergedCalls(toolBuf)
	if len(calls) > 0 {
		cw.ToolCalls(calls)
		finish = "tool_calls"
	}
	if finish == "" {
		finish = "stop"
	}
	cw.Finish(finish, nil)
	cw.Done()
	return raw.String(), reasoningAll.String(), calls
}

func mergeToolDelta(buf map[int]*types.ToolCall, tc types.ToolCall) {
	cur, ok := buf[tc.Index]
	if !ok {
		c := tc
		buf[tc.Index] = &c
		return
	}
	if tc.ID != "" {
		cur.ID = tc.ID
	}
	if tc.Function.Name != "" {
		cur.Function.Name = tc.Function.Name
	}
	cur.Function.Arguments += tc.Function.Arguments
}

func mergedCalls(buf map[int]*types.ToolCall) []toolcall.Call {
	if len(buf) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(buf))
	for i := range buf {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]toolcall.Call, 0, len(buf))
	for _, i := range indexes {
		tc := buf[i]
		id := tc.ID
		if id == "" {
			id = toolcall.NewCallID()
		}
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out = append(out, toolcall.Call{ID: id, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

// streamParsed handles backends that emit raw marker text inside content
// deltas, running them through the streaming parser.
func (s *Server) streamParsed(cw *sse.ChatWriter, reader *upstream.Reader, first upstream.Delta, schemas []toolcall.Schema, split bool) (string, string, []toolcall.Call) {
	p := stream.NewParser(schemas)
	var raw, reasoningAll strings.Builder
	var calls []toolcall.Call
	finish := ""

	emit := func(ev *stream.Event) {
		if ev == nil {
			return
		}
		raw.WriteString(ev.RawDelta)
		reasoningAll.WriteString(ev.ReasoningDelta)
		if split {
			cw.Reasoning(ev.ReasoningDelta)
		}

		if ev.Kind == stream.KindToolCalls {
			kept, _ := toolcall.ValidateCalls(ev.ToolCalls, schemas)
			if len(kept) > 0 {
				// The batch event can carry still-unsent leading text when
				// the whole block arrived in one fragment; flush it first.
				if split {
					cw.Content(ev.VisibleDelta)
				} else if idx := strings.Index(ev.RawDelta, toolcall.BlockStart); idx > 0 {
					cw.Content(ev.RawDelta[:idx])
				}
				calls = append(calls, kept...)
				cw.ToolCalls(kept)
				return
			}
			// Fail open: nothing valid decoded, stream the text instead.
		}
		if split {
			cw.Content(ev.VisibleDelta)
		} else {
			cw.Content(ev.RawDelta)
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

	if ev := p.FlushPending(); ev != nil {
		raw.WriteString(ev.RawDelta)
		reasoningAll.WriteString(ev.ReasoningDelta)
		if split {
			cw.Reasoning(ev.ReasoningDelta)
			cw.Content(ev.VisibleDelta)
		} else if !strings.Contains(ev.RawDelta, toolcall.BlockStart) {
			cw.Content(ev.RawDelta)
		} else {
			cw.Content(ev.VisibleDelta)
		}
	}

	if len(calls) > 0 {
		finish = "tool_calls"
	} else if finish == "" {
		finish = "stop"
	}
	cw.Finish(finish, nil)
	cw.Done()
	return raw.String(), reasoningAll.String(), calls
}

// completeChat handles the non-streaming path.
func (s *Server) completeChat(w http.ResponseWriter, r *http.Request, payload []byte, req types.ChatCompletionRequest, schemas []toolcall.Schema, sessionID string, split bool) {
	respBody, err := s.backend.ChatCompletion(r.Context(), payload)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	msg, err := upstream.ParseCompletion(respBody)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	raw := assembleRawContent(msg)
	result := toolcall.Decode(raw, schemas)

	calls := toDecodedCalls(msg.ToolCalls)
	if len(calls) == 0 && result.Called {
		calls, _ = toolcall.ValidateCalls(result.Calls, schemas)
	}

	reasoningText, visible := reasoning.SplitThink(result.Content)

	respMsg := types.ChatResponseMsg{Role: "assistant", ToolCalls: toTypesToolCalls(calls)}
	if split {
		respMsg.Content = strings.TrimSpace(visible)
		respMsg.ReasoningContent = strings.TrimSpace(reasoningText)
	} else {
		respMsg.Content = strings.TrimSpace(result.Content)
	}

	finish := msg.FinishReason
	if len(calls) > 0 {
		finish = "tool_calls"
	} else if finish == "" {
		finish = "stop"
	}

	resp := types.ChatCompletionResponse{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []types.ChatChoice{{Message: respMsg, FinishReason: types.StringPtr(finish)}},
		Usage: &types.Usage{
			PromptTokens:     msg.PromptTokens,
			CompletionTokens: msg.CompletionTokens,
			TotalTokens:      msg.PromptTokens + msg.CompletionTokens,
		},
	}
	writeJSON(w, http.StatusOK, resp)

	s.captureAssistant(sessionID, raw, reasoningText, calls, split)
}

// assembleRawContent reconstructs the model's raw output text from a backend
// completion that may have already split it into reasoning, content and
// structured tool calls.
func assembleRawContent(msg upstream.Message) string {
	var sections []string
	if rc := strings.TrimRight(msg.ReasoningContent, " \t\r\n"); rc != "" {
		sections = append(sections, reasoning.ThinkOpen+"\n"+rc+"\n"+reasoning.ThinkClose)
	}
	if msg.Content != "" {
		sections = append(sections, msg.Content)
	}
	if len(msg.ToolCalls) > 0 {
		if xml := toolcall.Encode(toDecodedCalls(msg.ToolCalls)); xml != "" {
			sections = append(sections, xml)
		}
	}

	raw := strings.TrimSpace(strings.Join(sections, "\n\n"))
	if raw == "" {
		raw = msg.Content
	}
	return reasoning.EnsureThinkWrapped(raw)
}

// captureAssistant records the finished assistant turn in the session store.
func (s *Server) captureAssistant(sessionID, rawContent, reasoningText string, calls []toolcall.Call, split bool) {
	if sessionID == "" || (rawContent == "" && len(calls) == 0) {
		return
	}
	msg := types.ChatMessage{Role: "assistant", ToolCalls: toTypesToolCalls(calls)}
	if split && reasoningText != "" {
		_, visible := reasoning.SplitThink(toolcall.RemoveBlocks(reasoning.EnsureThinkWrapped(rawContent)))
		msg.Content = visible
		msg.ReasoningDetails = []types.ReasoningDetail{{Type: "chain_of_thought", Text: reasoningText}}
	} else {
		msg.Content = reasoning.EnsureThinkWrapped(rawContent)
	}
	s.sessions.AppendMessage(sessionID, msg)
}
