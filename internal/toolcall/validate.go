package toolcall

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// ValidateCalls checks decoded calls against their schemas and drops calls
// with missing or empty required parameters. Calls without a schema pass
// through untouched. The returned warnings describe every issue found, even
// for calls that were kept.
func ValidateCalls(calls []Call, schemas []Schema) ([]Call, []string) {
	if len(calls) == 0 {
		return nil, nil
	}

	var kept []Call
	var warnings []string

	for _, c := range calls {
		sch := schemaFor(schemas, c.Name)
		if sch == nil {
			kept = append(kept, c)
			continue
		}

		if !gjson.Valid(c.Arguments) {
			warnings = append(warnings, fmt.Sprintf("tool %s: invalid JSON arguments", c.Name))
			slog.Warn("dropping tool call with invalid arguments", "tool", c.Name)
			continue
		}

		args := gjson.Parse(c.Arguments)
		var missing, empty []string
		for _, req := range sch.Required {
			v := args.Get(escapePath(req))
			switch {
			case !v.Exists():
				missing = append(missing, req)
			case v.Type == gjson.Null, v.Type == gjson.String && v.String() == "":
				empty = append(empty, req)
			}
		}

		if len(missing) > 0 {
			w := fmt.Sprintf("tool %s: missing required parameters: %s", c.Name, strings.Join(missing, ", "))
			warnings = append(warnings, w)
			slog.Warn(w)
		}
		if len(empty) > 0 {
			w := fmt.Sprintf("tool %s: empty required parameters: %s", c.Name, strings.Join(empty, ", "))
			warnings = append(warnings, w)
			slog.Warn(w)
		}
		if len(missing) > 0 || len(empty) > 0 {
			slog.Warn("dropping malformed tool call", "tool", c.Name)
			continue
		}

		kept = append(kept, c)
	}

	return kept, warnings
}

func schemaFor(schemas []Schema, name string) *Schema {
	for i := range schemas {
		if schemas[i].Name == name {
			return &schemas[i]
		}
	}
	return nil
}
