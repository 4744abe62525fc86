package upstream

import (
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-minimax-gate/internal/types"
)

// PayloadOptions tune the backend-bound request body.
type PayloadOptions struct {
	Stream        bool
	BannedStrings []string
	MaxTokens     int // override when > 0
}

// gateway-only fields that must not reach the backend.
var strippedFields = []string{"conversation_id", "reasoning_split"}

// StripGatewayFields removes gateway-only fields from a raw client body, for
// passthrough requests that otherwise go to the backend untouched.
func StripGatewayFields(raw []byte) ([]byte, error) {
	body := raw
	if len(body) == 0 {
		body = []byte("{}")
	}
	var err error
	for _, field := range strippedFields {
		if body, err = sjson.DeleteBytes(body, field); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// BuildChatPayload produces the backend request body. It starts from the raw
// client body so sampling parameters and tool definitions pass through
// untouched, then replaces the message history with the repaired and
// normalized one. add_generation_prompt is always set: the chat template
// needs it to open the reasoning block.
func BuildChatPayload(raw []byte, messages []types.ChatMessage, opts PayloadOptions) ([]byte, error) {
	body, err := StripGatewayFields(raw)
	if err != nil {
		return nil, err
	}

	if body, err = sjson.SetBytes(body, "messages", messages); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "stream", opts.Stream); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "add_generation_prompt", true); err != nil {
		return nil, err
	}
	if len(opts.BannedStrings) > 0 {
		if body, err = sjson.SetBytes(body, "banned_strings", opts.BannedStrings); err != nil {
			return nil, err
		}
	}
	if opts.MaxTokens > 0 {
		if body, err = sjson.SetBytes(body, "max_tokens", opts.MaxTokens); err != nil {
			return nil, err
		}
	}

	return body, nil
}
