// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tasks

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/distro-tracker/tracker/core/logger"
	corerecord "github.com/distro-tracker/tracker/core/record"
)

// Store is the record store interface the runner writes through.
type Store interface {
	// Record returns the current record of the named package.
	Record(ctx context.Context, pkg string) (map[corerecord.Field]corerecord.FieldState, error)

	// Apply applies the field writes of one task run, returning the
	// diffs that actually changed.
	Apply(ctx context.Context, pkg string, writes []corerecord.Write) ([]corerecord.Diff, error)
}

// Outcome classifies one (package, task) execution.
type Outcome int

const (
	// Success means the task ran and its writes were applied.
	Success Outcome = iota
	// SoftFailure means the task failed but prior field values are
	// retained; the package's remaining tasks still run.
	SoftFailure
	// HardFailure aborts the package's remaining tasks for the cycle.
	// Other packages are unaffected.
	HardFailure
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SoftFailure:
		return "soft-failure"
	case HardFailure:
		return "hard-failure"
	default:
		return "unknown"
	}
}

// RunResult is the outcome of one (package, task) execution.
type RunResult struct {
	Package string
	Task    string
	Outcome Outcome
	Diffs   []corerecord.Diff
	Err     error
}

// RunnerConfig holds the dependencies and tuning of a Runner.
type RunnerConfig struct {
	Store         Store
	Clock         clock.Clock
	Logger        logger.Logger
	FetchTimeout  time.Duration
	FetchRetries  int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// Validate checks the configuration is complete.
func (c RunnerConfig) Validate() error {
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.FetchTimeout <= 0 {
		return errors.NotValidf("non-positive FetchTimeout")
	}
	if c.FetchRetries < 1 {
		return errors.NotValidf("FetchRetries below 1")
	}
	if c.RetryDelay <= 0 {
		return errors.NotValidf("non-positive RetryDelay")
	}
	if c.RetryMaxDelay < c.RetryDelay {
		return errors.NotValidf("RetryMaxDelay below RetryDelay")
	}
	return nil
}

// Runner executes one task for one package: read declared fields,
// fetch external data, parse, apply writes. Failures never corrupt the
// record; every mutation goes through the store's atomic apply.
type Runner struct {
	config RunnerConfig
}

// NewRunner returns a task runner with the given configuration.
func NewRunner(config RunnerConfig) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Runner{config: config}, nil
}

// Run executes the task for the package and reports the outcome. The
// context bounds the whole run; each fetch attempt additionally
// carries the configured fetch timeout.
func (r *Runner) Run(ctx context.Context, pkg string, d Descriptor) RunResult {
	result := RunResult{Package: pkg, Task: d.Name}

	fields, err := r.config.Store.Record(ctx, pkg)
	if err != nil {
		result.Outcome = HardFailure
		result.Err = errors.Annotatef(err, "reading record of %q", pkg)
		return result
	}
	view := NewRecordView(pkg, d.Reads, fields)

	raw, err := r.fetch(ctx, pkg, d)
	if err != nil {
		if errors.Is(err, ErrPermanent) {
			result.Outcome = HardFailure
		} else {
			// Exhausted transient retries, or cancellation.
			result.Outcome = SoftFailure
		}
		result.Err = errors.Annotatef(err, "task %q fetching %q", d.Name, pkg)
		r.config.Logger.Warningf(ctx, "task %q package %q: %s: %v", d.Name, pkg, result.Outcome, err)
		return result
	}

	writes, err := d.Parse(view, raw)
	if err != nil {
		// Malformed data must never corrupt the record; keep the
		// prior values and move on.
		result.Outcome = SoftFailure
		result.Err = errors.Annotatef(err, "task %q parsing %q", d.Name, pkg)
		r.config.Logger.Warningf(ctx, "task %q package %q: discarding unparseable data: %v", d.Name, pkg, err)
		return result
	}
	if err := r.checkDeclaredWrites(d, writes); err != nil {
		result.Outcome = SoftFailure
		result.Err = errors.Trace(err)
		r.config.Logger.Errorf(ctx, "task %q package %q: %v", d.Name, pkg, err)
		return result
	}

	diffs, err := r.config.Store.Apply(ctx, pkg, writes)
	if err != nil {
		result.Outcome = HardFailure
		result.Err = errors.Annotatef(err, "task %q applying writes to %q", d.Name, pkg)
		return result
	}
	result.Outcome = Success
	result.Diffs = diffs
	return result
}

func (r *Runner) fetch(ctx context.Context, pkg string, d Descriptor) ([]byte, error) {
	var raw []byte
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
			defer cancel()
			var err error
			raw, err = d.Source.Fetch(fetchCtx, pkg)
			if errors.Is(err, context.DeadlineExceeded) {
				return errors.Annotate(ErrTransient, "fetch timed out")
			}
			return err
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, ErrTransient)
		},
		NotifyFunc: func(lastError error, attempt int) {
			r.config.Logger.Debugf(ctx, "task %q package %q: fetch attempt %d failed: %v",
				d.Name, pkg, attempt, lastError)
		},
		Attempts:    r.config.FetchRetries,
		Delay:       r.config.RetryDelay,
		MaxDelay:    r.config.RetryMaxDelay,
		BackoffFunc: retry.ExpBackoff(r.config.RetryDelay, r.config.RetryMaxDelay, 2.0, true),
		Clock:       r.config.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return raw, nil
}

func (r *Runner) checkDeclaredWrites(d Descriptor, writes []corerecord.Write) error {
	for _, w := range writes {
		if !writesField(d, w.Field) {
			return errors.NotValidf("task %q write to undeclared field %q", d.Name, w.Field)
		}
	}
	return nil
}
