package proxy

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

func TestOpenAIGoSDKSmokeChatCompletions(t *testing.T) {
	fb := newFakeBackend(completionBody("<think>\ngreeting\n</think>\nHello from the gateway"))
	backend := httptest.NewServer(fb.handler())
	defer backend.Close()
	gw := newGateway(t, backend.URL, nil)

	client := openai.NewClient(
		option.WithBaseURL(gw.URL+"/v1"),
		option.WithAPIKey("test-key"),
	)

	out, err := client.Chat.Completions.New(context.Background(), openai.ChatCompletionNewParams{
		Model: shared.ChatModel("minimax-m2"),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("hello from sdk"),
		},
	})
	if err != nil {
		t.Fatalf("sdk chat completion failed: %v", err)
	}
	if len(out.Choices) == 0 {
		t.Fatalf("expected non-empty choices, got: %+v", out)
	}
	if got := out.Choices[0].Message.Content; !strings.Contains(got, "Hello from the gateway") {
		t.Fatalf("unexpected content: %q", got)
	}
	if strings.Contains(out.Choices[0].Message.Content, "<think>") {
		t.Fatal("reasoning markers leaked to sdk client")
	}
}

func TestOpenAIGoSDKSmokeStreamingWithTools(t *testing.T) {
	fb := newFakeBackend(sseBody([]string{
		contentChunk("<minimax:tool_call>\n<invoke name=\"get_weather\">\n"),
		contentChunk("<parameter name=\"location\">Paris</parameter>\n</invoke>\n</minimax:tool_call>"),
	}, "stop"))
	backend := httptest.NewServer(fb.handler())
	defer backend.Close()
	gw := newGateway(t, backend.URL, nil)

	client := openai.NewClient(
		option.WithBaseURL(gw.URL+"/v1"),
		option.WithAPIKey("test-key"),
	)

	stream := client.Chat.Completions.NewStreaming(context.Background(), openai.ChatCompletionNewParams{
		Model: shared.ChatModel("minimax-m2"),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("weather in Paris"),
		},
		Tools: []openai.ChatCompletionToolUnionParam{
			openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
				Name: "get_weather",
				Parameters: shared.FunctionParameters{
					"type":     "object",
					"required": []any{"location"},
					"properties": map[string]any{
						"location": map[string]any{"type": "string"},
					},
				},
			}),
		},
	})

	var sawToolCall, sawToolFinish bool
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.FinishReason == "tool_calls" {
				sawToolFinish = true
			}
			for _, tc := range choice.Delta.ToolCalls {
				if tc.Function.Name == "get_weather" && strings.Contains(tc.Function.Arguments, `"location":"Paris"`) {
					sawToolCall = true
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("chat stream failed: %v", err)
	}
	if !sawToolCall {
		t.Fatal("expected tool call delta in sdk stream")
	}
	if !sawToolFinish {
		t.Fatal("expected tool_calls finish_reason in sdk stream")
	}
}

func TestAnthropicSDKSmokeMessages(t *testing.T) {
	fb := newFakeBackend(completionBody("<think>\ngreeting\n</think>\nHello from the gateway"))
	backend := httptest.NewServer(fb.handler())
	defer backend.Close()
	gw := newGateway(t, backend.URL, nil)

	client := anthropic.NewClient(
		anthropicoption.WithBaseURL(gw.URL),
		anthropicoption.WithAPIKey("test-key"),
	)

	msg, err := client.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:     anthropic.Model("minimax-m2"),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hello from sdk")),
		},
	})
	if err != nil {
		t.Fatalf("sdk messages call failed: %v", err)
	}

	var text, thinking string
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += variant.Text
		case anthropic.ThinkingBlock:
			thinking += variant.Thinking
		}
	}
	if !strings.Contains(text, "Hello from the gateway") {
		t.Fatalf("unexpected text: %q", text)
	}
	if thinking != "greeting" {
		t.Fatalf("unexpected thinking: %q", thinking)
	}
	if msg.StopReason != "end_turn" {
		t.Fatalf("stop reason = %q", msg.StopReason)
	}
}
