// Package runner sequences one comparison run: DB read, API fetch, join,
// and optional script validation, with cooperative cancellation between
// stages and sanitized fatal errors.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kmehring/go-dbapi-compare/apiclient"
	"github.com/kmehring/go-dbapi-compare/config"
	"github.com/kmehring/go-dbapi-compare/dbclient"
	"github.com/kmehring/go-dbapi-compare/exporter"
	"github.com/kmehring/go-dbapi-compare/joiner"
	"github.com/kmehring/go-dbapi-compare/models"
	"github.com/kmehring/go-dbapi-compare/progress"
	"github.com/kmehring/go-dbapi-compare/redact"
	"github.com/kmehring/go-dbapi-compare/timeutil"
	"github.com/kmehring/go-dbapi-compare/validator"
)

// Phase names the orchestrator states. Done, Failed, and Cancelled are
// terminal; run state is per run, never reused.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseJoining
	PhaseValidating
	PhaseDone
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseJoining:
		return "joining"
	case PhaseValidating:
		return "validating"
	case PhaseDone:
		return "done"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrRunActive is returned when a run is requested while one is executing.
// The new request is rejected, not queued.
var ErrRunActive = errors.New("runner: a run is already active")

// RunError is a fatal stage error with the message already redacted.
type RunError struct {
	Phase Phase
	Msg   string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Msg)
}

// Result carries the artifacts of one run.
type Result struct {
	ID     string
	Phase  Phase
	DB     *models.RecordSet
	API    *models.RecordSet
	Merged *models.RecordSet
	Logs   []string
}

// Runner owns the single-active-run gate, the cancellation token, and the
// progress sink shared by both run kinds.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger
	token  *progress.Token
	sink   *progress.Sink
	api    *apiclient.Client
	db     *dbclient.Client

	active atomic.Bool
	phase  atomic.Int32
}

// New builds a runner around an explicit logger handle and sink. The API
// client is constructed here so its metrics registry exists before the
// first run starts.
func New(cfg *config.Config, logger *slog.Logger, sink *progress.Sink) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = progress.NewSink()
	}
	api, err := apiclient.NewClient(cfg.API, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:    cfg,
		logger: logger,
		token:  progress.NewToken(),
		sink:   sink,
		api:    api,
		db:     dbclient.NewClient(logger),
	}, nil
}

// APIMetrics exposes the fetch metrics registry for serving.
func (r *Runner) APIMetrics() *apiclient.Metrics {
	return r.api.Metrics
}

// Token exposes the cancellation token for external triggers.
func (r *Runner) Token() *progress.Token {
	return r.token
}

// Cancel requests cooperative cancellation of the active run.
func (r *Runner) Cancel() {
	r.token.Set()
	r.sink.Put("cancellation requested …")
}

// Phase returns the current (or last terminal) phase.
func (r *Runner) Phase() Phase {
	return Phase(r.phase.Load())
}

// Run executes the full pipeline once. A second call while one run is
// active returns ErrRunActive without side effects.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.active.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer r.active.Store(false)

	if err := r.cfg.Validate(); err != nil {
		return nil, r.fail(PhaseIdle, err)
	}

	r.token.Clear()
	res := &Result{ID: shortID()}
	r.sink.Putf("run %s: starting", res.ID)

	// Updates mode needs its time window before any I/O happens.
	fromISO, toISO, err := r.resolveWindow()
	if err != nil {
		return nil, r.fail(PhaseIdle, err)
	}

	r.setPhase(PhaseFetching)
	r.sink.Put("reading db …")
	res.DB, err = r.db.ReadSelect(ctx, r.cfg.SQL, r.token, r.sink)
	if err != nil {
		return nil, r.fail(PhaseFetching, err)
	}
	if r.token.IsSet() {
		return r.cancelled(res), nil
	}

	r.sink.Put("calling api …")
	res.API, err = r.api.FetchAll(ctx, fromISO, toISO, r.token, r.sink)
	if err != nil {
		return nil, r.fail(PhaseFetching, err)
	}
	if r.token.IsSet() {
		return r.cancelled(res), nil
	}

	r.setPhase(PhaseJoining)
	r.sink.Put("joining …")
	res.Merged, err = joiner.Join(res.DB, res.API, r.cfg.Join)
	if err != nil {
		return nil, r.fail(PhaseJoining, err)
	}
	if r.token.IsSet() {
		return r.cancelled(res), nil
	}

	if r.cfg.Validator.Enabled && strings.TrimSpace(r.cfg.Validator.ScriptPath) != "" {
		r.setPhase(PhaseValidating)
		validated, logs, err := r.validate(res.Merged)
		if err != nil {
			return nil, r.fail(PhaseValidating, err)
		}
		res.Merged = validated
		res.Logs = logs
	}

	r.setPhase(PhaseDone)
	res.Phase = PhaseDone
	r.sink.Putf("run %s: complete - %d merged rows", res.ID, res.Merged.Len())
	return res, nil
}

// Revalidate runs only the validation engine against a previously produced
// merged set, stripping prior validation columns first. It shares the
// single-active-run gate and token with Run.
func (r *Runner) Revalidate(ctx context.Context, prior *models.RecordSet) (*Result, error) {
	if !r.active.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer r.active.Store(false)

	if prior == nil || prior.Empty() {
		return nil, r.fail(PhaseIdle, errors.New("no merged data to revalidate"))
	}
	if strings.TrimSpace(r.cfg.Validator.ScriptPath) == "" {
		return nil, r.fail(PhaseIdle, errors.New("no validator script configured"))
	}

	r.token.Clear()
	res := &Result{ID: shortID()}
	r.sink.Putf("revalidation %s: starting", res.ID)

	base := prior.DropColumnsWithPrefix("validation_")

	r.setPhase(PhaseValidating)
	validated, logs, err := r.validate(base)
	if err != nil {
		return nil, r.fail(PhaseValidating, err)
	}
	res.Merged = validated
	res.Logs = logs

	r.setPhase(PhaseDone)
	res.Phase = PhaseDone
	r.sink.Putf("revalidation %s: complete", res.ID)
	return res, nil
}

func (r *Runner) validate(merged *models.RecordSet) (*models.RecordSet, []string, error) {
	r.sink.Putf("validator: %s", r.cfg.Validator.ScriptPath)
	engine, err := validator.New(validator.Options{
		ScriptPath: r.cfg.Validator.ScriptPath,
		DBPrefix:   r.cfg.Join.DBPrefix,
		APIPrefix:  r.cfg.Join.APIPrefix,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	out, logs := engine.Run(merged, r.sink, exporter.FixesDir(r.cfg.ExportDir))
	return out, logs, nil
}

// resolveWindow turns the configured local window into the UTC ISO pair the
// updates endpoint requires. List mode needs no window.
func (r *Runner) resolveWindow() (string, string, error) {
	if !r.cfg.API.UseUpdates {
		return "", "", nil
	}
	w := r.cfg.Window
	if w.FromDate == "" || w.ToDate == "" {
		return "", "", errors.New("updates mode requires from/to dates")
	}
	fromDate, err := time.Parse("2006-01-02", w.FromDate)
	if err != nil {
		return "", "", fmt.Errorf("invalid from date %q: %w", w.FromDate, err)
	}
	toDate, err := time.Parse("2006-01-02", w.ToDate)
	if err != nil {
		return "", "", fmt.Errorf("invalid to date %q: %w", w.ToDate, err)
	}
	return timeutil.MakeISORange(fromDate, w.FromTime, toDate, w.ToTime, w.Timezone)
}

func (r *Runner) setPhase(p Phase) {
	r.phase.Store(int32(p))
	r.logger.Debug("phase transition", slog.String("phase", p.String()))
}

// fail records the terminal Failed state with the error text redacted, so
// credentials never cross the runner boundary.
func (r *Runner) fail(phase Phase, err error) error {
	r.setPhase(PhaseFailed)
	msg := redact.Error(err)
	r.sink.Putf("run failed: %s", msg)
	return &RunError{Phase: phase, Msg: msg}
}

func (r *Runner) cancelled(res *Result) *Result {
	r.setPhase(PhaseCancelled)
	res.Phase = PhaseCancelled
	r.sink.Putf("run %s: cancelled", res.ID)
	return res
}

func shortID() string {
	return uuid.NewString()[:8]
}
