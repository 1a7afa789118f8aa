// Package payload implements the pure operations over nested intake
// form payloads: dotted-path access, value-semantic deep copies,
// identity-key projection, and person-name handling. Payloads are open
// maps; only the enumerated enrichment paths participate in
// reconciliation.
package payload

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SafeGet descends through nested maps along a dotted path and returns
// the scalar at the leaf as a trimmed string. Any missing or non-map
// intermediate node yields "".
func SafeGet(payload map[string]interface{}, path string) string {
	if payload == nil || path == "" {
		return ""
	}

	var node interface{} = payload
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return ""
		}
		node, ok = m[key]
		if !ok {
			return ""
		}
	}

	return scalarString(node)
}

// SafeSet writes value at the dotted path, creating intermediate maps
// when absent and replacing non-map intermediates with fresh maps.
func SafeSet(payload map[string]interface{}, path string, value interface{}) {
	if payload == nil || path == "" {
		return
	}

	keys := strings.Split(path, ".")
	node := payload
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			node[key] = child
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
}

// DeepCopy returns a value-semantic copy of the payload via a JSON
// round-trip. Mutations of the copy never leak into the source.
func DeepCopy(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

func scalarString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}
