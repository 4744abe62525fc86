// Package toolcall decodes and encodes the MiniMax-M2 XML tool-call dialect.
//
// The model emits tool invocations as
//
//	<minimax:tool_call>
//	<invoke name="get_weather">
//	<parameter name="location">Paris</parameter>
//	</invoke>
//	</minimax:tool_call>
//
// Decode turns complete blocks into structured calls with typed argument
// coercion; Encode is the reverse, used when replaying prior tool calls into
// backend-bound history. Both are isolated here so the streaming state
// machine never depends on the matching details.
package toolcall

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// BlockStart marks the beginning of a tool-call block.
	BlockStart = "<minimax:tool_call>"
	// BlockEnd marks the end of a tool-call block.
	BlockEnd = "</minimax:tool_call>"
)

var (
	blockRe  = regexp.MustCompile(`(?s)` + BlockStart + `(.*?)` + BlockEnd)
	invokeRe = regexp.MustCompile(`(?s)<invoke\s+name\s*=\s*(.*?)</invoke>`)
	paramRe  = regexp.MustCompile(`(?s)<parameter\s+name\s*=\s*(.*?)</parameter>`)
)

// Call is the canonical representation of one decoded invocation.
// Arguments is always valid JSON text with parameters in encounter order.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Schema carries per-tool typing hints used for argument coercion
// and required-parameter validation.
type Schema struct {
	Name     string
	Required []string
	Types    map[string]string
}

// Result is the outcome of a Decode pass. When Called is false, Content is
// the input unchanged; malformed input is never reported as an error.
type Result struct {
	Called  bool
	Calls   []Call
	Content string
}

// Decode extracts every complete tool-call block from text. Blocks whose
// markers are present but yield no valid invocation leave the text untouched
// (fail-open: the caller keeps streaming the region as plain content).
func Decode(text string, schemas []Schema) Result {
	if !strings.Contains(text, BlockStart) {
		return Result{Content: text}
	}

	var calls []Call
	for _, block := range blockRe.FindAllStringSubmatch(text, -1) {
		for _, inv := range invokeRe.FindAllStringSubmatch(block[1], -1) {
			if call, ok := parseInvoke(inv[1], schemas); ok {
				calls = append(calls, call)
			}
		}
	}
	if len(calls) == 0 {
		return Result{Content: text}
	}

	return Result{
		Called:  true,
		Calls:   calls,
		Content: strings.TrimSpace(blockRe.ReplaceAllString(text, "")),
	}
}

// Encode renders structured calls back into the XML dialect for replaying
// prior tool use into backend-bound history. String argument values are
// embedded verbatim, everything else as JSON.
func Encode(calls []Call) string {
	if len(calls) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(BlockStart)
	b.WriteByte('\n')
	for _, c := range calls {
		fmt.Fprintf(&b, "<invoke name=%q>\n", c.Name)
		gjson.Parse(c.Arguments).ForEach(func(key, value gjson.Result) bool {
			val := value.Raw
			if value.Type == gjson.String {
				val = value.String()
			}
			fmt.Fprintf(&b, "<parameter name=%q>%s</parameter>\n", key.String(), val)
			return true
		})
		b.WriteString("</invoke>\n")
	}
	b.WriteString(BlockEnd)
	return b.String()
}

// RemoveBlocks strips complete tool-call blocks without trimming the
// surrounding text, preserving byte offsets for incremental callers.
func RemoveBlocks(text string) string {
	if !strings.Contains(text, BlockStart) {
		return text
	}
	return blockRe.ReplaceAllString(text, "")
}

// NewCallID generates a unique tool-call identifier.
func NewCallID() string {
	hexID := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "call_" + hexID[:24]
}

func parseInvoke(inv string, schemas []Schema) (Call, bool) {
	nameEnd := strings.IndexByte(inv, '>')
	if nameEnd < 0 {
		return Call{}, false
	}
	name := unquoteName(inv[:nameEnd])
	if name == "" {
		return Call{}, false
	}

	paramTypes := typesForTool(schemas, name)

	args := "{}"
	for _, pm := range paramRe.FindAllStringSubmatch(inv[nameEnd+1:], -1) {
		pEnd := strings.IndexByte(pm[1], '>')
		if pEnd < 0 {
			continue
		}
		pName := unquoteName(pm[1][:pEnd])
		if pName == "" {
			continue
		}
		raw := trimParamValue(pm[1][pEnd+1:])

		updated, err := sjson.SetRaw(args, escapePath(pName), string(CoerceValue(raw, paramTypes[pName])))
		if err != nil {
			slog.Warn("skipping unserializable tool parameter", "tool", name, "param", pName, "error", err)
			continue
		}
		args = updated
	}

	return Call{ID: NewCallID(), Name: name, Arguments: args}, true
}

func typesForTool(schemas []Schema, name string) map[string]string {
	for _, s := range schemas {
		if s.Name == name {
			return s.Types
		}
	}
	return nil
}

// unquoteName trims whitespace and a single matching pair of quotes around a
// name= attribute value.
func unquoteName(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// trimParamValue removes at most one leading and one trailing newline, then
// surrounding whitespace.
func trimParamValue(s string) string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSpace(s)
}

// escapePath neutralizes gjson/sjson path syntax inside parameter names so
// they are addressed as literal object keys.
func escapePath(key string) string {
	return pathEscaper.Replace(key)
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`)
