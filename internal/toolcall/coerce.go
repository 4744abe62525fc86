package toolcall

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CoerceValue converts a raw parameter value into JSON text according to the
// declared type. Unparseable values fall back to the raw string; the literal
// value "null" (any case) always maps to JSON null regardless of type.
func CoerceValue(raw, declaredType string) json.RawMessage {
	if strings.EqualFold(raw, "null") {
		return json.RawMessage("null")
	}

	switch strings.ToLower(declaredType) {
	case "string", "str", "text":
		return marshalString(decodeBackslashEscapes(raw))

	case "integer", "int":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return json.RawMessage(strconv.FormatInt(n, 10))
		}
		return marshalString(raw)

	case "number", "float":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			// Collapse whole-valued floats to integers, matching how the
			// model tends to write "3" for a number-typed parameter.
			if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
				return json.RawMessage(strconv.FormatInt(int64(f), 10))
			}
			if b, err := json.Marshal(f); err == nil {
				return b
			}
		}
		return marshalString(raw)

	case "boolean", "bool":
		lower := strings.ToLower(raw)
		if lower == "true" || lower == "1" {
			return json.RawMessage("true")
		}
		return json.RawMessage("false")

	case "object", "array":
		return jsonOrString(raw)

	default:
		return jsonOrString(raw)
	}
}

// jsonOrString keeps raw as JSON when it parses, otherwise wraps it as a
// JSON string.
func jsonOrString(raw string) json.RawMessage {
	if raw != "" && json.Valid([]byte(raw)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(raw)); err == nil {
			return buf.Bytes()
		}
	}
	return marshalString(raw)
}

func marshalString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// decodeBackslashEscapes best-effort decodes backslash escape sequences in a
// string-typed value. The decode is reverted wholesale when it fails or would
// introduce control characters other than newline, tab, or carriage return.
func decodeBackslashEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(s) {
			return s
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case '\\':
			b.WriteByte('\\')
		case '/':
			b.WriteByte('/')
		case 'u':
			if i+6 > len(s) {
				return s
			}
			n, err := strconv.ParseUint(s[i+2:i+6], 16, 32)
			if err != nil {
				return s
			}
			// Lone surrogates are not valid runes; WriteRune would
			// silently substitute U+FFFD instead of reverting.
			if !utf8.ValidRune(rune(n)) {
				return s
			}
			b.WriteRune(rune(n))
			i += 6
			continue
		default:
			return s
		}
		i += 2
	}

	out := b.String()
	for _, r := range out {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return s
		}
	}
	return out
}
