// Package stream implements the incremental parser for MiniMax-M2 output.
//
// The backend interleaves reasoning markers and XML tool-call blocks with
// plain text, and fragment boundaries fall anywhere, including inside a
// marker. The parser buffers fragments, decides whether the turn opened
// inside a reasoning block, suspends output while a tool-call block is
// being generated, and emits at most one batch of decoded tool calls per
// turn. Everything it emits is byte-accounted: concatenating the RawDelta
// of every event (plus a possibly synthesized opening reasoning marker)
// reconstructs the upstream text exactly.
package stream

import (
	"strings"

	"github.com/n0madic/go-minimax-gate/internal/reasoning"
	"github.com/n0madic/go-minimax-gate/internal/toolcall"
)

// Parser is the per-turn streaming state machine. Not safe for concurrent
// use; each upstream response gets its own Parser.
type Parser struct {
	schemas []toolcall.Schema

	buf        string
	sentOffset int

	thinkResolved    bool
	hasThinkClose    bool
	thinkOpeningSent bool

	toolsSent     bool
	lastToolCalls []toolcall.Call

	// Cumulative raw text already handed to the caller, and how much of
	// its reasoning/visible projection has been attributed to events.
	emittedRaw       string
	reasoningEmitted int
	visibleEmitted   int
}

// NewParser returns a parser for one upstream turn. Schemas drive argument
// typing when a tool-call block is decoded; nil is fine for tool-less turns.
func NewParser(schemas []toolcall.Schema) *Parser {
	return &Parser{schemas: schemas}
}

// SetSchemas replaces the typing schemas. Only meaningful before the first
// tool-call block completes.
func (p *Parser) SetSchemas(schemas []toolcall.Schema) {
	p.schemas = schemas
}

// ProcessChunk feeds one upstream fragment and returns the resulting event,
// or nil when the parser is still buffering. Fragments may split markers at
// any byte position.
func (p *Parser) ProcessChunk(fragment string) *Event {
	p.buf += fragment

	// Opening ambiguity: the chat template emits <think> inside the
	// prompt, so a turn that starts with reasoning shows only the closing
	// marker. Nothing is released until we know which way the turn opened.
	if !p.thinkResolved {
		closeIdx := strings.Index(p.buf, reasoning.ThinkClose)
		startIdx := strings.Index(p.buf, toolcall.BlockStart)
		switch {
		case closeIdx >= 0 && (startIdx < 0 || closeIdx < startIdx):
			p.thinkResolved = true
			p.hasThinkClose = true
		case startIdx >= 0:
			// A tool-call block opened before any closing marker: the
			// turn did not start inside reasoning.
			p.thinkResolved = true
		default:
			return nil
		}
	}

	hasStart := strings.Contains(p.buf, toolcall.BlockStart)
	hasEnd := strings.Contains(p.buf, toolcall.BlockEnd)

	if hasStart && !hasEnd {
		// Tool-call block in progress: suspend output, but first release
		// any content that precedes the block.
		if !p.toolsSent {
			startIdx := strings.Index(p.buf, toolcall.BlockStart)
			if startIdx > p.sentOffset {
				delta := p.withThinkPrefix(p.buf[p.sentOffset:startIdx])
				p.sentOffset = startIdx
				return p.makeEvent(KindContent, delta, nil)
			}
		}
		return nil
	}

	if hasStart && hasEnd && !p.toolsSent {
		res := toolcall.Decode(p.buf, p.schemas)
		if !res.Called {
			// Markers present but nothing decodable yet: a later
			// fragment may complete a valid invocation, so keep
			// buffering rather than emit a false batch.
			return nil
		}
		p.toolsSent = true
		p.lastToolCalls = res.Calls
		consumedEnd := strings.LastIndex(p.buf, toolcall.BlockEnd) + len(toolcall.BlockEnd)
		delta := p.withThinkPrefix(p.buf[p.sentOffset:consumedEnd])
		p.sentOffset = consumedEnd
		return p.makeEvent(KindToolCalls, delta, res.Calls)
	}

	pending := p.buf[p.sentOffset:]
	if hold := markerHoldback(pending); len(pending) > hold {
		delta := p.withThinkPrefix(pending[:len(pending)-hold])
		p.sentOffset = len(p.buf) - hold
		return p.makeEvent(KindContent, delta, nil)
	}
	return nil
}

// markerHoldback returns how many trailing bytes of pending must stay
// buffered because they form a proper prefix of a marker that the next
// fragment may complete.
func markerHoldback(pending string) int {
	hold := 0
	for _, marker := range []string{toolcall.BlockStart, reasoning.ThinkOpen, reasoning.ThinkClose} {
		limit := len(marker) - 1
		if limit > len(pending) {
			limit = len(pending)
		}
		for n := limit; n > hold; n-- {
			if strings.HasSuffix(pending, marker[:n]) {
				hold = n
				break
			}
		}
	}
	return hold
}

// FlushPending force-releases whatever is still buffered, regardless of
// parser state. Called at end of stream; dangling unterminated markers are
// emitted as-is. Idempotent: a second call returns nil.
func (p *Parser) FlushPending() *Event {
	if len(p.buf) <= p.sentOffset {
		return nil
	}
	delta := p.buf[p.sentOffset:]
	if p.sentOffset == 0 && !p.thinkOpeningSent && strings.Contains(delta, reasoning.ThinkClose) {
		p.thinkOpeningSent = true
		delta = reasoning.EnsureThinkWrapped(delta)
	}
	p.sentOffset = len(p.buf)
	return p.makeEvent(KindContent, delta, nil)
}

// HasToolCalls reports whether a tool-call batch has been emitted this turn.
func (p *Parser) HasToolCalls() bool {
	return p.toolsSent
}

// LastToolCalls returns the batch emitted this turn, or nil.
func (p *Parser) LastToolCalls() []toolcall.Call {
	return p.lastToolCalls
}

// FinalContent returns the full accumulated text with complete tool-call
// blocks removed. Used by non-streaming callers after the stream ends.
func (p *Parser) FinalContent() string {
	if !strings.Contains(p.buf, toolcall.BlockStart) {
		return p.buf
	}
	return toolcall.Decode(p.buf, p.schemas).Content
}

// withThinkPrefix synthesizes the opening reasoning marker onto the first
// released delta of a turn that started inside a reasoning block.
func (p *Parser) withThinkPrefix(delta string) string {
	if p.sentOffset == 0 && !p.thinkOpeningSent && p.hasThinkClose {
		p.thinkOpeningSent = true
		return reasoning.EnsureThinkWrapped(delta)
	}
	return delta
}

// makeEvent records rawDelta as emitted and attributes any newly available
// reasoning/visible text to the event. Attribution is monotonic: once a
// byte is reported under one channel it is never reported again.
func (p *Parser) makeEvent(kind Kind, rawDelta string, calls []toolcall.Call) *Event {
	p.emittedRaw += rawDelta

	reasoningAll, visibleAll := reasoning.SplitThink(toolcall.RemoveBlocks(p.emittedRaw))

	ev := &Event{Kind: kind, RawDelta: rawDelta, ToolCalls: calls}
	if len(reasoningAll) > p.reasoningEmitted {
		ev.ReasoningDelta = reasoningAll[p.reasoningEmitted:]
		p.reasoningEmitted = len(reasoningAll)
	}
	if len(visibleAll) > p.visibleEmitted {
		ev.VisibleDelta = visibleAll[p.visibleEmitted:]
		p.visibleEmitted = len(visibleAll)
	}
	return ev
}
