package llm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Text is a string field in a model answer. It accepts any JSON scalar,
// joins arrays with ", ", and reads null or an object as empty, so a
// well-formed answer with a loosely typed field still decodes.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = Text(flatten(v))
	return nil
}

func (t Text) String() string { return string(t) }

func flatten(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s := strings.TrimSpace(flatten(e)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}
