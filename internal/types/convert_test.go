package types

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestAnthropicMessagesToChatText(t *testing.T) {
	msgs := []AnthropicMessage{
		{Role: "user", Content: json.RawMessage(`"Hello"`)},
		{Role: "assistant", Content: json.RawMessage(`[{"type":"text","text":"Hi!"}]`)},
	}

	out, err := AnthropicMessagesToChat(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d messages", len(out))
	}
	if out[0].Role != "user" || out[0].Content != "Hello" {
		t.Errorf("user message = %+v", out[0])
	}
	if out[1].Role != "assistant" || out[1].Content != "Hi!" {
		t.Errorf("assistant message = %+v", out[1])
	}
}

func TestAnthropicMessagesToChatThinkingFold(t *testing.T) {
	msgs := []AnthropicMessage{
		{Role: "assistant", Content: json.RawMessage(`[
			{"type":"thinking","thinking":"planning the answer"},
			{"type":"text","text":"Here it is."}
		]`)},
	}

	out, err := AnthropicMessagesToChat(msgs)
	if err != nil {
		t.Fatal(err)
	}
	want := "<think>\nplanning the answer\n</think>\nHere it is."
	if out[0].Content != want {
		t.Errorf("content = %q want %q", out[0].Content, want)
	}
}

func TestAnthropicMessagesToChatToolRoundTrip(t *testing.T) {
	msgs := []AnthropicMessage{
		{Role: "assistant", Content: json.RawMessage(`[
			{"type":"text","text":"Checking."},
			{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"location":"Paris"}}
		]`)},
		{Role: "user", Content: json.RawMessage(`[
			{"type":"tool_result","tool_use_id":"toolu_1","content":"Sunny, 22C"}
		]`)},
	}

	out, err := AnthropicMessagesToChat(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d messages: %+v", len(out), out)
	}

	asst := out[0]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant = %+v", asst)
	}
	tc := asst.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Function.Name != "get_weather" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments != `{"location":"Paris"}` {
		t.Errorf("arguments = %q", tc.Function.Arguments)
	}

	res := out[1]
	if res.Role != "tool" || res.ToolCallID != "toolu_1" {
		t.Errorf("tool result = %+v", res)
	}
	if res.Name != "get_weather" {
		t.Errorf("tool name not recovered: %q", res.Name)
	}
	if res.Content != "Sunny, 22C" {
		t.Errorf("content = %v", res.Content)
	}
}

func TestAnthropicToolChoiceToChat(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{"auto", "auto"},
		{"none", "none"},
		{map[string]any{"type": "any"}, "required"},
		{map[string]any{"type": "auto"}, "auto"},
		{map[string]any{"type": "tool", "name": "get_weather"},
			map[string]any{"type": "function", "function": map[string]any{"name": "get_weather"}}},
	}
	for _, c := range cases {
		got := AnthropicToolChoiceToChat(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("AnthropicToolChoiceToChat(%v) = %v want %v", c.in, got, c.want)
		}
	}
}

func TestSchemasFromChatTools(t *testing.T) {
	tools := []ChatTool{{
		Type: "function",
		Function: &FunctionDef{
			Name: "calc",
			Parameters: map[string]any{
				"type":     "object",
				"required": []any{"count"},
				"properties": map[string]any{
					"count": map[string]any{"type": "integer"},
					"label": map[string]any{"type": "string"},
				},
			},
		},
	}}

	schemas := SchemasFromChatTools(tools)
	if len(schemas) != 1 {
		t.Fatalf("got %d schemas", len(schemas))
	}
	s := schemas[0]
	if s.Name != "calc" {
		t.Errorf("name = %q", s.Name)
	}
	if !reflect.DeepEqual(s.Required, []string{"count"}) {
		t.Errorf("required = %v", s.Required)
	}
	if s.Types["count"] != "integer" || s.Types["label"] != "string" {
		t.Errorf("types = %v", s.Types)
	}
}

func TestSchemasFromAnthropicTools(t *testing.T) {
	tools := []AnthropicTool{{
		Name: "search",
		InputSchema: map[string]any{
			"required":   []any{"query"},
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
	}}

	schemas := SchemasFromAnthropicTools(tools)
	if len(schemas) != 1 || schemas[0].Types["query"] != "string" {
		t.Fatalf("schemas = %+v", schemas)
	}
}
