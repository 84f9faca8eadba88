// Package validator runs a caller-authored validate function against every
// merged record inside an embedded script interpreter.
//
// The script is a Go fragment evaluated by yaegi with stdlib symbols only.
// It must declare
//
//	func validate(db, api map[string]interface{}) interface{}
//
// and may return a boolean, a string, or a map per the coercion rules in
// coerce.go. Output the script prints is captured per row and forwarded to
// the progress sink prefixed with "[script] ".
package validator

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kmehring/go-dbapi-compare/models"
	"github.com/kmehring/go-dbapi-compare/progress"
)

// Reserved extra-field names. Their string values are accumulated into fix
// scripts instead of becoming columns.
const (
	fixKeyWawi = "wawi_fix"
	fixKeyAPI  = "api_fix"
)

var safeFileName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// ErrScriptLoad reports that the script could not be loaded or does not
// expose a usable validate function. Raised at construction, before any row.
type ErrScriptLoad struct {
	Err error
}

func (e ErrScriptLoad) Error() string {
	return fmt.Errorf("script load: %w", e.Err).Error()
}

func (e ErrScriptLoad) Unwrap() error {
	return e.Err
}

// Options configures engine construction. Exactly one of ScriptPath and
// ScriptCode must be set (ScriptCode wins when both are).
type Options struct {
	ScriptPath string
	ScriptCode string
	DBPrefix   string
	APIPrefix  string
	Logger     *slog.Logger
}

// Engine is a single-goroutine script host. Rows are visited strictly in
// input order; the diagnostic buffer and fix accumulators depend on it.
type Engine struct {
	fn        reflect.Value
	out       *bytes.Buffer
	logger    *slog.Logger
	dbPrefix  string
	apiPrefix string
}

// New loads the script and resolves its validate function.
func New(opts Options) (*Engine, error) {
	code := opts.ScriptCode
	if code == "" {
		if opts.ScriptPath == "" {
			return nil, ErrScriptLoad{Err: fmt.Errorf("neither script path nor script code given")}
		}
		raw, err := os.ReadFile(opts.ScriptPath)
		if err != nil {
			return nil, ErrScriptLoad{Err: fmt.Errorf("read script: %w", err)}
		}
		code = string(raw)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := &bytes.Buffer{}
	i := interp.New(interp.Options{Stdout: out, Stderr: out})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, ErrScriptLoad{Err: fmt.Errorf("load stdlib symbols: %w", err)}
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return nil, ErrScriptLoad{Err: fmt.Errorf("evaluate script: %w", err)}
	}

	v, err := i.Eval("main.validate")
	if err != nil {
		return nil, ErrScriptLoad{Err: fmt.Errorf("no validate(db, api) function in script: %w", err)}
	}
	if v.Kind() != reflect.Func || v.Type().NumIn() != 2 {
		return nil, ErrScriptLoad{Err: fmt.Errorf("validate must be a function of two arguments")}
	}

	e := &Engine{
		fn:        v,
		out:       out,
		logger:    logger,
		dbPrefix:  opts.DBPrefix,
		apiPrefix: opts.APIPrefix,
	}
	if e.dbPrefix == "" {
		e.dbPrefix = "db_"
	}
	if e.apiPrefix == "" {
		e.apiPrefix = "api_"
	}
	return e, nil
}

// wrapCode wraps a bare fragment in a main package so declarations resolve
// under main.*.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

// Run invokes validate once per row and returns a copy of the input with
// validation_ok, validation_msg, and one validation_<key> column per
// distinct non-reserved extra key, plus all captured diagnostic lines.
//
// A row's script failure marks that row invalid and the run continues. Fix
// accumulators are persisted to fixDir after the last row; with an empty
// fixDir their presence is reported but nothing is written.
func (e *Engine) Run(rs *models.RecordSet, sink *progress.Sink, fixDir string) (*models.RecordSet, []string) {
	if rs == nil || rs.Empty() {
		var out *models.RecordSet
		if rs == nil {
			out = models.NewRecordSet()
		} else {
			out = rs.Copy()
		}
		return out, []string{"no rows to check"}
	}

	sink.Putf("validator: starting, %d rows …", rs.Len())

	oks := make([]any, 0, rs.Len())
	msgs := make([]any, 0, rs.Len())
	extraCols := make(map[string][]any)
	var extraOrder []string
	var logs []string
	var wawiFix, apiFix strings.Builder

	for idx := range rs.Rows {
		if idx > 0 && idx%1000 == 0 {
			sink.Putf("validator: checked %d rows …", idx)
		}

		db, api := e.splitRow(rs, idx)
		res := e.callValidate(db, api)
		coerced := coerceResult(res)
		oks = append(oks, coerced.OK)
		msgs = append(msgs, coerced.Msg)

		for _, k := range sortedKeys(coerced.Extra) {
			v := coerced.Extra[k]
			if s, ok := v.(string); ok && (k == fixKeyWawi || k == fixKeyAPI) {
				acc := &wawiFix
				if k == fixKeyAPI {
					acc = &apiFix
				}
				acc.WriteString(s)
				if !strings.HasSuffix(s, "\n") {
					acc.WriteString("\n")
				}
				continue
			}
			col := "validation_" + k
			if _, seen := extraCols[col]; !seen {
				extraOrder = append(extraOrder, col)
				// Rows visited before this key appeared get nil cells.
				extraCols[col] = make([]any, idx)
			}
			extraCols[col] = append(extraCols[col], v)
		}
		// Keep every extra column aligned with the row just visited.
		for _, col := range extraOrder {
			if len(extraCols[col]) <= idx {
				extraCols[col] = append(extraCols[col], nil)
			}
		}

		logs = append(logs, e.flushLogs(sink)...)
	}
	logs = append(logs, e.flushLogs(sink)...)

	out := rs.Copy()
	out.AddColumn("validation_ok", oks)
	out.AddColumn("validation_msg", msgs)
	for _, col := range extraOrder {
		out.AddColumn(col, extraCols[col])
	}

	e.persistFix("wawi", wawiFix.String(), fixDir, sink)
	e.persistFix("api", apiFix.String(), fixDir, sink)

	return out, logs
}

// splitRow partitions a merged row into the two prefixed namespaces. Column
// names keep their prefixes; unprefixed columns are excluded from both.
func (e *Engine) splitRow(rs *models.RecordSet, row int) (map[string]any, map[string]any) {
	db := make(map[string]any)
	api := make(map[string]any)
	for i, col := range rs.Columns {
		v := coerceValue(rs.Rows[row][i])
		switch {
		case strings.HasPrefix(col, e.dbPrefix):
			db[col] = v
		case strings.HasPrefix(col, e.apiPrefix):
			api[col] = v
		}
	}
	return db, api
}

// callValidate invokes the interpreted function, converting a script panic
// into a per-row failure so the batch never aborts on one row.
func (e *Engine) callValidate(db, api map[string]any) (res any) {
	defer func() {
		if r := recover(); r != nil {
			res = map[string]any{"ok": false, "msg": fmt.Sprintf("script error: %v", r)}
		}
	}()

	out := e.fn.Call([]reflect.Value{reflect.ValueOf(db), reflect.ValueOf(api)})
	if len(out) == 0 {
		return nil
	}
	return out[0].Interface()
}

// flushLogs drains the interpreter's captured output, forwarding each line
// to the sink with the script prefix.
func (e *Engine) flushLogs(sink *progress.Sink) []string {
	raw := e.out.String()
	e.out.Reset()
	if raw == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	for _, line := range lines {
		sink.Put("[script] " + line)
	}
	return lines
}

// persistFix writes one accumulator to the fix directory when it carries
// more than whitespace. Write failures are reported, not fatal.
func (e *Engine) persistFix(kind, content, fixDir string, sink *progress.Sink) {
	if strings.TrimSpace(content) == "" {
		return
	}
	if fixDir == "" {
		sink.Putf("validator: %s fix present (no fix directory given) - not saved", kind)
		return
	}
	path, err := writeFixFile(kind, content, fixDir)
	if err != nil {
		sink.Putf("validator: %s fix could not be saved: %s", kind, err)
		return
	}
	sink.Putf("validator: %s fix saved: %s", kind, path)
}

func writeFixFile(kind, content, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ts := time.Now().Format("20060102_150405")
	name := safeFileName.ReplaceAllString(fmt.Sprintf("%s_fix_%s.js", kind, ts), "_")
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
