package validator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kmehring/go-dbapi-compare/models"
	"github.com/kmehring/go-dbapi-compare/progress"
)

func mergedSet(rows ...[]any) *models.RecordSet {
	rs := models.NewRecordSet("db_id", "db_status", "api_id", "api_status", "run_id")
	rs.Rows = append(rs.Rows, rows...)
	return rs
}

func newEngine(t *testing.T, code string) *Engine {
	t.Helper()
	e, err := New(Options{ScriptCode: code})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestRunBooleanResult(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} {
	return db["db_status"] == api["api_status"]
}`)

	rs := mergedSet(
		[]any{"1", "open", "1", "open", "r"},
		[]any{"2", "open", "2", "closed", "r"},
	)
	out, _ := e.Run(rs, progress.NewSink(), "")

	if out.Value(0, "validation_ok") != true || out.Value(1, "validation_ok") != false {
		t.Fatalf("ok column = %v, %v", out.Value(0, "validation_ok"), out.Value(1, "validation_ok"))
	}
	if out.Value(0, "validation_msg") != nil {
		t.Fatalf("boolean result must carry no message, got %v", out.Value(0, "validation_msg"))
	}
	// Input is untouched.
	if rs.HasColumn("validation_ok") {
		t.Fatalf("input set was mutated")
	}
}

func TestRunStringResultMarksRowInvalid(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} {
	return "status differs"
}`)

	out, _ := e.Run(mergedSet([]any{"1", "a", "1", "b", "r"}), progress.NewSink(), "")
	if out.Value(0, "validation_ok") != false || out.Value(0, "validation_msg") != "status differs" {
		t.Fatalf("row = ok=%v msg=%v", out.Value(0, "validation_ok"), out.Value(0, "validation_msg"))
	}
}

func TestRunObjectResultWithExtraColumns(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} {
	if db["db_id"] == "1" {
		return map[string]interface{}{"ok": true, "msg": "fine", "delta": 0.25}
	}
	return map[string]interface{}{"ok": false}
}`)

	out, _ := e.Run(mergedSet(
		[]any{"1", "a", "1", "a", "r"},
		[]any{"2", "a", "2", "b", "r"},
	), progress.NewSink(), "")

	if !out.HasColumn("validation_delta") {
		t.Fatalf("columns = %v", out.Columns)
	}
	if out.Value(0, "validation_delta") != 0.25 {
		t.Fatalf("delta row 0 = %v", out.Value(0, "validation_delta"))
	}
	if out.Value(1, "validation_delta") != nil {
		t.Fatalf("delta row 1 = %v, want nil", out.Value(1, "validation_delta"))
	}
}

func TestRunExtraColumnAppearingLateStaysAligned(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} {
	if db["db_id"] == "3" {
		return map[string]interface{}{"ok": true, "note": "late"}
	}
	return true
}`)

	out, _ := e.Run(mergedSet(
		[]any{"1", "a", "1", "a", "r"},
		[]any{"2", "a", "2", "a", "r"},
		[]any{"3", "a", "3", "a", "r"},
	), progress.NewSink(), "")

	if out.Value(0, "validation_note") != nil || out.Value(1, "validation_note") != nil {
		t.Fatalf("early rows must be nil: %v %v", out.Value(0, "validation_note"), out.Value(1, "validation_note"))
	}
	if out.Value(2, "validation_note") != "late" {
		t.Fatalf("late row = %v", out.Value(2, "validation_note"))
	}
}

func TestRunScriptErrorFailsRowNotRun(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} {
	if db["db_id"] == "2" {
		panic("boom")
	}
	return true
}`)

	out, _ := e.Run(mergedSet(
		[]any{"1", "a", "1", "a", "r"},
		[]any{"2", "a", "2", "a", "r"},
		[]any{"3", "a", "3", "a", "r"},
	), progress.NewSink(), "")

	if out.Value(0, "validation_ok") != true || out.Value(2, "validation_ok") != true {
		t.Fatalf("healthy rows affected: %v %v", out.Value(0, "validation_ok"), out.Value(2, "validation_ok"))
	}
	if out.Value(1, "validation_ok") != false {
		t.Fatalf("failing row ok = %v", out.Value(1, "validation_ok"))
	}
	msg, _ := out.Value(1, "validation_msg").(string)
	if !strings.HasPrefix(msg, "script error: ") {
		t.Fatalf("failing row msg = %q", msg)
	}
}

func TestRunCapturesScriptOutput(t *testing.T) {
	e := newEngine(t, `
import "fmt"

func validate(db, api map[string]interface{}) interface{} {
	fmt.Println("checking", db["db_id"])
	return true
}`)

	sink := progress.NewSink()
	_, logs := e.Run(mergedSet([]any{"7", "a", "7", "a", "r"}), sink, "")

	if len(logs) == 0 || !strings.Contains(logs[0], "checking 7") {
		t.Fatalf("logs = %v", logs)
	}
	var sawPrefixed bool
	for _, m := range sink.Drain() {
		if strings.HasPrefix(m, "[script] ") && strings.Contains(m, "checking 7") {
			sawPrefixed = true
		}
	}
	if !sawPrefixed {
		t.Fatalf("sink missing prefixed script line")
	}
}

func TestRunAccumulatesFixScripts(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} {
	return map[string]interface{}{
		"ok":       false,
		"wawi_fix": "UPDATE t SET x = " + db["db_id"].(string) + ";",
	}
}`)

	dir := t.TempDir()
	out, _ := e.Run(mergedSet(
		[]any{"1", "a", "1", "a", "r"},
		[]any{"2", "a", "2", "a", "r"},
	), progress.NewSink(), dir)

	// Reserved keys never become columns.
	if out.HasColumn("validation_wawi_fix") {
		t.Fatalf("reserved key leaked into columns: %v", out.Columns)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("fix files = %d, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "wawi_fix_") || !strings.HasSuffix(name, ".js") {
		t.Fatalf("fix file name = %q", name)
	}

	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "UPDATE t SET x = 1;\nUPDATE t SET x = 2;\n"
	if string(content) != want {
		t.Fatalf("fix content = %q, want %q", content, want)
	}
}

func TestRunFixWithoutDirReportsOnly(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} {
	return map[string]interface{}{"ok": true, "api_fix": "fix();"}
}`)

	sink := progress.NewSink()
	e.Run(mergedSet([]any{"1", "a", "1", "a", "r"}), sink, "")

	var sawNotice bool
	for _, m := range sink.Drain() {
		if strings.Contains(m, "api fix present (no fix directory given)") {
			sawNotice = true
		}
	}
	if !sawNotice {
		t.Fatalf("expected unsaved fix notice")
	}
}

func TestRunEmptySet(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} { return true }`)

	out, logs := e.Run(models.NewRecordSet("db_id"), progress.NewSink(), "")
	if out.Len() != 0 {
		t.Fatalf("rows = %d", out.Len())
	}
	if len(logs) != 1 || logs[0] != "no rows to check" {
		t.Fatalf("logs = %v", logs)
	}
}

func TestSplitRowKeepsPrefixesAndDropsUnprefixed(t *testing.T) {
	e := newEngine(t, `
func validate(db, api map[string]interface{}) interface{} { return true }`)

	rs := mergedSet([]any{"1", "open", "1", "closed", "run-9"})
	db, api := e.splitRow(rs, 0)

	if db["db_id"] != "1" || db["db_status"] != "open" {
		t.Fatalf("db side = %v", db)
	}
	if api["api_status"] != "closed" {
		t.Fatalf("api side = %v", api)
	}
	if _, ok := db["run_id"]; ok {
		t.Fatalf("unprefixed column leaked into db side")
	}
	if _, ok := api["run_id"]; ok {
		t.Fatalf("unprefixed column leaked into api side")
	}
}

func TestNewRejectsBadScripts(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{name: "no validate function", code: `func other() {}`},
		{name: "wrong arity", code: `func validate(db map[string]interface{}) interface{} { return true }`},
		{name: "syntax error", code: `func validate(`},
		{name: "validate not a function", code: `var validate = 3`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{ScriptCode: tt.code})
			var load ErrScriptLoad
			if !errors.As(err, &load) {
				t.Fatalf("error = %T (%v), want ErrScriptLoad", err, err)
			}
		})
	}
}

func TestNewRequiresPathOrCode(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error with neither path nor code")
	}
}

func TestNewReadsScriptFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "check.js")
	code := "func validate(db, api map[string]interface{}) interface{} { return true }"
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e, err := New(Options{ScriptPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, _ := e.Run(mergedSet([]any{"1", "a", "1", "a", "r"}), progress.NewSink(), "")
	if out.Value(0, "validation_ok") != true {
		t.Fatalf("file-loaded script did not run")
	}
}
