package stream

import "github.com/n0madic/go-minimax-gate/internal/toolcall"

// Kind tags a parser output event.
type Kind string

const (
	// KindContent carries a raw/visible content delta.
	KindContent Kind = "content"
	// KindToolCalls carries a complete batch of decoded tool calls.
	KindToolCalls Kind = "tool_calls"
	// KindReasoning carries a reasoning-only delta.
	KindReasoning Kind = "reasoning"
)

// Event is one parser output. RawDelta is the pass-through text including any
// synthesized reasoning markers; VisibleDelta has reasoning spans and
// tool-call blocks stripped; ReasoningDelta is incremental reasoning text,
// never re-emitting characters attributed to an earlier event.
type Event struct {
	Kind           Kind
	RawDelta       string
	VisibleDelta   string
	ReasoningDelta string
	ToolCalls      []toolcall.Call
}
