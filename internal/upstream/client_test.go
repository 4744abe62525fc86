package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-minimax-gate/internal/types"
)

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Minute, false)
	body, err := c.ChatCompletion(context.Background(), []byte(`{"model":"minimax-m2"}`))
	if err != nil {
		t.Fatal(err)
	}

	msg, err := ParseCompletion(body)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "hi" || msg.FinishReason != "stop" {
		t.Errorf("got %+v", msg)
	}
}

func TestChatCompletionStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Minute, false)
	_, err := c.ChatCompletion(context.Background(), []byte(`{}`))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", statusErr.Code)
	}
}

func TestChatCompletionStreamAndReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		io.WriteString(w, ": keep-alive\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Minute, false)
	resp, err := c.ChatCompletionStream(context.Background(), []byte(`{"stream":true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	reader := NewReader(resp.Body)
	var content strings.Builder
	var finish string
	for {
		data, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		delta, ok := ParseChunkDelta(data)
		if !ok {
			continue
		}
		content.WriteString(delta.Content)
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
	}
	if content.String() != "Hello" {
		t.Errorf("content = %q", content.String())
	}
	if finish != "stop" {
		t.Errorf("finish = %q", finish)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if !NewClient(srv.URL, "", time.Minute, false).Healthy(context.Background()) {
		t.Error("expected healthy backend")
	}
	if NewClient("http://127.0.0.1:1", "", time.Minute, false).Healthy(context.Background()) {
		t.Error("unreachable backend reported healthy")
	}
}

func TestBuildChatPayload(t *testing.T) {
	raw := []byte(`{"model":"minimax-m2","temperature":0.6,"conversation_id":"abc","reasoning_split":true,"messages":[{"role":"user","content":"old"}]}`)
	messages := []types.ChatMessage{{Role: "user", Content: "repaired"}}

	body, err := BuildChatPayload(raw, messages, PayloadOptions{
		Stream:        true,
		BannedStrings: []string{"bad"},
		MaxTokens:     32768,
	})
	if err != nil {
		t.Fatal(err)
	}

	if gjson.GetBytes(body, "conversation_id").Exists() || gjson.GetBytes(body, "reasoning_split").Exists() {
		t.Error("gateway-only fields leaked to backend")
	}
	if got := gjson.GetBytes(body, "messages.0.content").String(); got != "repaired" {
		t.Errorf("messages not replaced: %q", got)
	}
	if !gjson.GetBytes(body, "stream").Bool() || !gjson.GetBytes(body, "add_generation_prompt").Bool() {
		t.Error("stream/add_generation_prompt not set")
	}
	if gjson.GetBytes(body, "temperature").Float() != 0.6 {
		t.Error("sampling parameters must pass through")
	}
	if gjson.GetBytes(body, "banned_strings.0").String() != "bad" {
		t.Error("banned_strings missing")
	}
	if gjson.GetBytes(body, "max_tokens").Int() != 32768 {
		t.Error("max_tokens override missing")
	}
}

func TestParseChunkDeltaNoChoices(t *testing.T) {
	if _, ok := ParseChunkDelta([]byte(`{"usage":{"total_tokens":5}}`)); ok {
		t.Error("chunk without choices must not parse")
	}
}
