package stream

import (
	"strings"
	"testing"

	"github.com/n0madic/go-minimax-gate/internal/toolcall"
)

const (
	weatherBlock = "<minimax:tool_call>\n<invoke name=\"get_weather\">\n<parameter name=\"location\">Paris</parameter>\n</invoke>\n</minimax:tool_call>"
)

// feed pushes fragments through the parser and collects every event,
// including the final flush.
func feed(p *Parser, fragments ...string) []*Event {
	var events []*Event
	for _, f := range fragments {
		if ev := p.ProcessChunk(f); ev != nil {
			events = append(events, ev)
		}
	}
	if ev := p.FlushPending(); ev != nil {
		events = append(events, ev)
	}
	return events
}

func TestReasoningTurnSynthesizesOpeningMarker(t *testing.T) {
	p := NewParser(nil)

	if ev := p.ProcessChunk("Thinking it over"); ev != nil {
		t.Fatalf("ambiguous opening must buffer, got %+v", ev)
	}

	ev := p.ProcessChunk(" and done</think>\nHi there")
	if ev == nil {
		t.Fatal("expected an event after the closing marker")
	}
	if ev.Kind != KindContent {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.RawDelta != "<think>\nThinking it over and done</think>\nHi there" {
		t.Errorf("raw = %q", ev.RawDelta)
	}
	if ev.ReasoningDelta != "Thinking it over and done" {
		t.Errorf("reasoning = %q", ev.ReasoningDelta)
	}
	if ev.VisibleDelta != "Hi there" {
		t.Errorf("visible = %q", ev.VisibleDelta)
	}

	if ev := p.FlushPending(); ev != nil {
		t.Errorf("nothing should remain pending, got %+v", ev)
	}
}

func TestToolCallTurnEmitsLeadingContentThenBatch(t *testing.T) {
	p := NewParser(nil)

	ev := p.ProcessChunk("I'll check the weather.\n<minimax:tool_call>\n<invoke name=\"get_w")
	if ev == nil {
		t.Fatal("content before the block must be released on suspension")
	}
	if ev.Kind != KindContent || ev.RawDelta != "I'll check the weather.\n" {
		t.Fatalf("got %+v", ev)
	}

	ev = p.ProcessChunk("eather\">\n<parameter name=\"location\">Paris</parameter>\n</invoke>\n</minimax:tool_call>")
	if ev == nil || ev.Kind != KindToolCalls {
		t.Fatalf("expected tool_calls event, got %+v", ev)
	}
	if len(ev.ToolCalls) != 1 || ev.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("calls = %+v", ev.ToolCalls)
	}
	if ev.VisibleDelta != "" {
		t.Errorf("block text must not surface as visible content: %q", ev.VisibleDelta)
	}
	if !strings.Contains(ev.RawDelta, "</minimax:tool_call>") {
		t.Errorf("raw delta must carry the consumed block: %q", ev.RawDelta)
	}

	if !p.HasToolCalls() {
		t.Error("HasToolCalls = false after batch")
	}
}

func TestReasoningThenToolCallSingleChunk(t *testing.T) {
	p := NewParser(nil)

	ev := p.ProcessChunk("Plan the lookup</think>\n" + weatherBlock)
	if ev == nil || ev.Kind != KindToolCalls {
		t.Fatalf("got %+v", ev)
	}
	if ev.ReasoningDelta != "Plan the lookup" {
		t.Errorf("reasoning = %q", ev.ReasoningDelta)
	}
	if ev.VisibleDelta != "" {
		t.Errorf("visible = %q", ev.VisibleDelta)
	}
	if !strings.HasPrefix(ev.RawDelta, "<think>\n") {
		t.Errorf("opening marker not synthesized: %q", ev.RawDelta)
	}
}

func TestDanglingToolBlockFlushedAtEndOfStream(t *testing.T) {
	p := NewParser(nil)

	ev := p.ProcessChunk("Reasoning</think>\nVisible text ")
	if ev == nil || ev.ReasoningDelta != "Reasoning" || ev.VisibleDelta != "Visible text " {
		t.Fatalf("got %+v", ev)
	}

	if ev := p.ProcessChunk("<minimax:tool_call>\n<invoke name=\"f"); ev != nil {
		t.Fatalf("open block must suspend output, got %+v", ev)
	}

	ev = p.FlushPending()
	if ev == nil {
		t.Fatal("flush must release the pending fragment")
	}
	if ev.RawDelta != "<minimax:tool_call>\n<invoke name=\"f" {
		t.Errorf("raw = %q", ev.RawDelta)
	}
	if p.HasToolCalls() {
		t.Error("incomplete block must not produce a batch")
	}

	if ev := p.FlushPending(); ev != nil {
		t.Errorf("flush must be idempotent, got %+v", ev)
	}
}

func TestMarkerSplitAcrossFragments(t *testing.T) {
	p := NewParser(nil)

	if ev := p.ProcessChunk("deep thought</thi"); ev != nil {
		t.Fatalf("partial closing marker leaked: %+v", ev)
	}
	ev := p.ProcessChunk("nk>\nanswer")
	if ev == nil {
		t.Fatal("expected event once the marker completes")
	}
	if ev.ReasoningDelta != "deep thought" || ev.VisibleDelta != "answer" {
		t.Errorf("got reasoning %q visible %q", ev.ReasoningDelta, ev.VisibleDelta)
	}
}

func TestPartialBlockStartNeverLeaks(t *testing.T) {
	p := NewParser(nil)

	if ev := p.ProcessChunk("abc<minimax:tool"); ev != nil {
		t.Fatalf("partial start marker leaked: %+v", ev)
	}
	ev := p.ProcessChunk("_call><invoke name=\"x\"><parameter name=\"a\">1</parameter></invoke></minimax:tool_call>")
	if ev == nil || ev.Kind != KindToolCalls {
		t.Fatalf("got %+v", ev)
	}
	if !strings.HasPrefix(ev.RawDelta, "abc<minimax:tool_call>") {
		t.Errorf("raw = %q", ev.RawDelta)
	}
	if ev.VisibleDelta != "abc" {
		t.Errorf("visible = %q", ev.VisibleDelta)
	}
}

func TestSplitStartMarkerHeldBackAfterResolution(t *testing.T) {
	p := NewParser(nil)

	ev := p.ProcessChunk("plan</think>\nHello <minimax:tool")
	if ev == nil {
		t.Fatal("expected the resolved prefix to stream")
	}
	if ev.VisibleDelta != "Hello " {
		t.Errorf("visible = %q", ev.VisibleDelta)
	}
	if strings.Contains(ev.RawDelta, "<minimax:tool") {
		t.Errorf("partial start marker leaked: %q", ev.RawDelta)
	}

	ev = p.ProcessChunk("_call><invoke name=\"get_weather\"><parameter name=\"location\">Paris</parameter></invoke></minimax:tool_call>")
	if ev == nil || ev.Kind != KindToolCalls {
		t.Fatalf("got %+v", ev)
	}
	if ev.VisibleDelta != "" {
		t.Errorf("visible = %q", ev.VisibleDelta)
	}
	if len(ev.ToolCalls) != 1 || ev.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("calls = %+v", ev.ToolCalls)
	}
}

func TestMarkerLookalikeEventuallyStreams(t *testing.T) {
	p := NewParser(nil)

	ev := p.ProcessChunk("thoughts</think>\nvisit the <think")
	if ev == nil || ev.VisibleDelta != "visit the " {
		t.Fatalf("got %+v", ev)
	}
	ev = p.ProcessChunk("ing room")
	if ev == nil || ev.VisibleDelta != "<thinking room" {
		t.Fatalf("held-back lookalike must be released once disproven, got %+v", ev)
	}
}

func TestAtMostOneBatchPerTurn(t *testing.T) {
	p := NewParser(nil)

	ev := p.ProcessChunk(weatherBlock)
	if ev == nil || ev.Kind != KindToolCalls {
		t.Fatalf("got %+v", ev)
	}
	first := p.LastToolCalls()

	ev = p.ProcessChunk("\n" + weatherBlock + "\ntrailing")
	if ev == nil || ev.Kind != KindContent {
		t.Fatalf("second block must stream as content, got %+v", ev)
	}
	if len(p.LastToolCalls()) != len(first) || p.LastToolCalls()[0].ID != first[0].ID {
		t.Error("batch must not be replaced after it was sent")
	}
	if ev.VisibleDelta != "\n\ntrailing" {
		t.Errorf("visible = %q", ev.VisibleDelta)
	}
}

func TestTrailingContentAfterBatch(t *testing.T) {
	p := NewParser(nil)

	if ev := p.ProcessChunk(weatherBlock); ev == nil || ev.Kind != KindToolCalls {
		t.Fatalf("got %+v", ev)
	}
	ev := p.ProcessChunk("Done.")
	if ev == nil || ev.Kind != KindContent || ev.RawDelta != "Done." || ev.VisibleDelta != "Done." {
		t.Fatalf("got %+v", ev)
	}
}

func TestMalformedBlockBuffersUntilFlush(t *testing.T) {
	p := NewParser(nil)

	text := "<minimax:tool_call>garbage without invocations</minimax:tool_call>"
	if ev := p.ProcessChunk(text); ev != nil {
		t.Fatalf("undecodable block must keep buffering, got %+v", ev)
	}

	ev := p.FlushPending()
	if ev == nil || ev.RawDelta != text {
		t.Fatalf("flush must release the raw text, got %+v", ev)
	}
	if p.HasToolCalls() {
		t.Error("no batch expected")
	}
}

func TestFlushCompletenessPlainStream(t *testing.T) {
	p := NewParser(nil)
	fragments := []string{"Hello", ", ", "wor", "ld!"}

	var raw strings.Builder
	for _, ev := range feed(p, fragments...) {
		raw.WriteString(ev.RawDelta)
	}
	if raw.String() != "Hello, world!" {
		t.Fatalf("reconstructed %q", raw.String())
	}
}

func TestFlushCompletenessWithToolCalls(t *testing.T) {
	p := NewParser(nil)
	input := "lead " + weatherBlock + " trail"

	var raw strings.Builder
	for _, ev := range feed(p, "lead <mini", input[len("lead <mini"):]) {
		raw.WriteString(ev.RawDelta)
	}
	if raw.String() != input {
		t.Fatalf("reconstructed %q want %q", raw.String(), input)
	}
}

func TestSchemaDrivenCoercionInStream(t *testing.T) {
	schemas := []toolcall.Schema{{
		Name:  "calc",
		Types: map[string]string{"count": "integer"},
	}}
	p := NewParser(schemas)

	ev := p.ProcessChunk("<minimax:tool_call><invoke name=\"calc\"><parameter name=\"count\">42</parameter></invoke></minimax:tool_call>")
	if ev == nil || len(ev.ToolCalls) != 1 {
		t.Fatalf("got %+v", ev)
	}
	if ev.ToolCalls[0].Arguments != `{"count":42}` {
		t.Errorf("arguments = %q", ev.ToolCalls[0].Arguments)
	}
}

func TestFinalContentStripsBlocks(t *testing.T) {
	p := NewParser(nil)
	feed(p, "lead ", weatherBlock, " trail")

	if got := p.FinalContent(); got != "lead  trail" {
		t.Errorf("FinalContent = %q", got)
	}
}

func TestReasoningAttributedExactlyOnce(t *testing.T) {
	p := NewParser(nil)

	var reasoningTotal strings.Builder
	for _, ev := range feed(p, "alpha", " beta</think>", "\nvisible one", " visible two") {
		reasoningTotal.WriteString(ev.ReasoningDelta)
	}
	if reasoningTotal.String() != "alpha beta" {
		t.Fatalf("reasoning = %q", reasoningTotal.String())
	}
}
