package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/n0madic/go-minimax-gate/internal/reasoning"
	"github.com/n0madic/go-minimax-gate/internal/toolcall"
)

// AnthropicMessagesToChat converts Anthropic Messages API input into OpenAI
// chat messages. Thinking blocks are folded into the message text as
// reasoning-marker spans, tool_use blocks become assistant tool_calls, and
// tool_result blocks become role=tool messages carrying the originating tool
// name when it can be recovered from an earlier tool_use id.
func AnthropicMessagesToChat(messages []AnthropicMessage) ([]ChatMessage, error) {
	var out []ChatMessage
	toolNames := make(map[string]string)
	nextCallID := 1

	for _, msg := range messages {
		role := strings.TrimSpace(strings.ToLower(msg.Role))
		if role == "" {
			continue
		}
		blocks, err := msg.ParseContent()
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}

		var text strings.Builder
		var toolCalls []ToolCall
		flushPending := func() {
			if text.Len() == 0 && len(toolCalls) == 0 {
				return
			}
			m := ChatMessage{Role: normalizeRole(role), Content: text.String()}
			if len(toolCalls) > 0 {
				m.Role = "assistant"
				m.ToolCalls = toolCalls
			}
			out = append(out, m)
			text.Reset()
			toolCalls = nil
		}

		for _, block := range blocks {
			blockType := strings.TrimSpace(strings.ToLower(block.Type))
			switch blockType {
			case "", "text":
				if block.Text == "" {
					continue
				}
				if text.Len() > 0 {
					text.WriteByte('\n')
				}
				text.WriteString(block.Text)

			case "thinking":
				if block.Thinking == "" {
					continue
				}
				if text.Len() > 0 {
					text.WriteByte('\n')
				}
				text.WriteString(reasoning.ThinkOpen + "\n" + block.Thinking + "\n" + reasoning.ThinkClose)

			case "tool_use":
				callID := strings.TrimSpace(block.ID)
				if callID == "" {
					callID = fmt.Sprintf("call_%d", nextCallID)
					nextCallID++
				}
				args := "{}"
				if block.Input != nil {
					if b, err := json.Marshal(block.Input); err == nil {
						args = string(b)
					}
				}
				toolNames[callID] = block.Name
				toolCalls = append(toolCalls, ToolCall{
					Index:    len(toolCalls),
					ID:       callID,
					Type:     "function",
					Function: FunctionCall{Name: block.Name, Arguments: args},
				})

			case "tool_result":
				flushPending()
				callID := strings.TrimSpace(block.ToolUseID)
				if callID == "" {
					callID = strings.TrimSpace(block.ID)
				}
				out = append(out, ChatMessage{
					Role:       "tool",
					ToolCallID: callID,
					Name:       toolNames[callID],
					Content:    ParseToolResultText(block.Content),
				})

			default:
				// Preserve unknown blocks that still carry text.
				if block.Text != "" {
					if text.Len() > 0 {
						text.WriteByte('\n')
					}
					text.WriteString(block.Text)
				}
			}
		}

		flushPending()
	}

	return out, nil
}

// AnthropicToolsToChat converts Messages API tools to OpenAI chat tools.
func AnthropicToolsToChat(tools []AnthropicTool) []ChatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ChatTool, 0, len(tools))
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		out = append(out, ChatTool{
			Type: "function",
			Function: &FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// AnthropicToolChoiceToChat maps Anthropic tool_choice values to the OpenAI
// equivalent.
func AnthropicToolChoiceToChat(choice any) any {
	if choice == nil {
		return nil
	}
	if s, ok := choice.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "none":
			return "none"
		default:
			return "auto"
		}
	}
	m, ok := choice.(map[string]any)
	if !ok {
		return "auto"
	}

	kind, _ := m["type"].(string)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "none":
		return "none"
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		name, _ := m["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return "required"
		}
		return map[string]any{"type": "function", "function": map[string]any{"name": name}}
	default:
		return "auto"
	}
}

// SchemasFromChatTools derives argument-typing schemas from OpenAI tool
// definitions with JSON-schema parameters.
func SchemasFromChatTools(tools []ChatTool) []toolcall.Schema {
	var out []toolcall.Schema
	for _, t := range tools {
		if t.Function == nil || t.Function.Name == "" {
			continue
		}
		out = append(out, schemaFromParams(t.Function.Name, t.Function.Parameters))
	}
	return out
}

// SchemasFromAnthropicTools derives argument-typing schemas from Messages
// API tool definitions.
func SchemasFromAnthropicTools(tools []AnthropicTool) []toolcall.Schema {
	var out []toolcall.Schema
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		out = append(out, schemaFromParams(t.Name, t.InputSchema))
	}
	return out
}

func schemaFromParams(name string, params any) toolcall.Schema {
	sch := toolcall.Schema{Name: name}

	m, ok := params.(map[string]any)
	if !ok {
		return sch
	}

	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok && s != "" {
				sch.Required = append(sch.Required, s)
			}
		}
	}

	if props, ok := m["properties"].(map[string]any); ok {
		sch.Types = make(map[string]string, len(props))
		for pname, pdef := range props {
			def, ok := pdef.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := def["type"].(string); ok {
				sch.Types[pname] = t
			}
		}
	}

	return sch
}

func normalizeRole(role string) string {
	switch role {
	case "assistant":
		return "assistant"
	case "system":
		return "system"
	default:
		return "user"
	}
}
