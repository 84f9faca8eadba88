package validator

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Result is the normalized outcome of one validate call.
type Result struct {
	OK    bool
	Msg   any            // nil when the script supplied no message
	Extra map[string]any // non-reserved keys become validation_<key> columns
}

// coerceValue converts one host cell into a script-friendly value before it
// crosses the boundary: binary to lowercase hex, NaN/Inf to nil, timestamps
// to ISO-8601 strings, everything unrepresentable to its string form.
func coerceValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, map[string]any, []any:
		return t
	case []byte:
		return fmt.Sprintf("%x", t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// coerceResult normalizes the script's raw return value:
//
//	boolean b -> {ok: b}
//	string s  -> {ok: false, msg: s}
//	object o  -> {ok: truthy(o.ok, default false), msg: o.msg, extra: rest}
//	other     -> {ok: false, msg: "invalid return type: <type>"}
func coerceResult(res any) Result {
	switch t := res.(type) {
	case bool:
		return Result{OK: t}
	case string:
		return Result{OK: false, Msg: t}
	case map[string]any:
		out := Result{OK: truthy(t["ok"]), Msg: t["msg"]}
		for k, v := range t {
			if k == "ok" || k == "msg" {
				continue
			}
			if out.Extra == nil {
				out.Extra = make(map[string]any)
			}
			out.Extra[k] = v
		}
		return out
	default:
		return Result{OK: false, Msg: fmt.Sprintf("invalid return type: %T", res)}
	}
}

// truthy mirrors loose boolean coercion for the object form's ok field: an
// absent or nil ok is false, zero numbers and empty strings are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// sortedKeys returns the map's keys in a deterministic order so extra
// columns appear in a stable sequence run over run.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
