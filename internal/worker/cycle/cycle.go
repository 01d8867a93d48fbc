// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cycle runs update task cycles: every registered task for
// every active package, parallel across packages, sequential within a
// package.
package cycle

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/distro-tracker/tracker/core/logger"
	"github.com/distro-tracker/tracker/internal/tasks"
)

// TaskRunner executes one task for one package.
type TaskRunner interface {
	Run(ctx context.Context, pkg string, d tasks.Descriptor) tasks.RunResult
}

// PackageLister returns the packages a cycle covers.
type PackageLister interface {
	Packages(ctx context.Context) ([]string, error)
}

// Summary is the outcome of one cycle, as reported to operators.
type Summary struct {
	// Packages is the number of packages the cycle covered.
	Packages int
	// Succeeded, SoftFailed and HardFailed count task runs.
	Succeeded  int
	SoftFailed int
	HardFailed int
	// AbortedPackages counts packages whose cycle was cut short by a
	// hard failure.
	AbortedPackages int
}

// AllPackagesFailed reports whether every package in the cycle was
// aborted by a hard failure. This is the only condition under which a
// cycle is reported as a process failure.
func (s Summary) AllPackagesFailed() bool {
	return s.Packages > 0 && s.AbortedPackages == s.Packages
}

// EngineConfig holds the dependencies of an Engine.
type EngineConfig struct {
	Registry *tasks.Registry
	Runner   TaskRunner
	Packages PackageLister
	Logger   logger.Logger
	Metrics  *Metrics

	// Workers bounds the number of packages processed concurrently.
	Workers int

	// SourceSlots bounds concurrent fetches per source kind, the
	// backpressure protecting external data sources. Kinds without an
	// entry are unlimited beyond the worker bound.
	SourceSlots map[string]int
}

// Validate checks the configuration is complete.
func (c EngineConfig) Validate() error {
	if c.Registry == nil {
		return errors.NotValidf("nil Registry")
	}
	if c.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if c.Packages == nil {
		return errors.NotValidf("nil Packages")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	if c.Workers < 1 {
		return errors.NotValidf("Workers below 1")
	}
	for kind, slots := range c.SourceSlots {
		if slots < 1 {
			return errors.NotValidf("%d slots for source kind %q", slots, kind)
		}
	}
	return nil
}

// Engine executes one full cycle at a time.
type Engine struct {
	config      EngineConfig
	sourceSlots map[string]chan struct{}
}

// NewEngine returns a cycle engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	slots := make(map[string]chan struct{}, len(config.SourceSlots))
	for kind, n := range config.SourceSlots {
		slots[kind] = make(chan struct{}, n)
	}
	return &Engine{config: config, sourceSlots: slots}, nil
}

// RunCycle runs every registered task for every active package and
// returns the summary. Cancelling the context stops each package
// worker after its current task; completed applies are never rolled
// back, so a partial cycle leaves a consistent record and is safe to
// resume on the next run.
func (e *Engine) RunCycle(ctx context.Context) (Summary, error) {
	plan, err := e.config.Registry.Plan()
	if err != nil {
		return Summary{}, errors.Trace(err)
	}
	packages, err := e.config.Packages.Packages(ctx)
	if err != nil {
		return Summary{}, errors.Trace(err)
	}

	e.config.Logger.Infof(ctx, "starting cycle: %d tasks, %d packages", len(plan), len(packages))

	var (
		mu      sync.Mutex
		summary = Summary{Packages: len(packages)}
		wg      sync.WaitGroup
	)
	workers := make(chan struct{}, e.config.Workers)
	for _, pkg := range packages {
		select {
		case <-ctx.Done():
			// Stop launching; in-flight workers drain below.
			wg.Wait()
			return summary, nil
		case workers <- struct{}{}:
		}

		wg.Add(1)
		go func(pkg string) {
			defer wg.Done()
			defer func() { <-workers }()

			aborted := e.runPackage(ctx, pkg, plan, func(result tasks.RunResult) {
				mu.Lock()
				defer mu.Unlock()
				switch result.Outcome {
				case tasks.Success:
					summary.Succeeded++
					e.config.Metrics.succeeded.Inc()
				case tasks.SoftFailure:
					summary.SoftFailed++
					e.config.Metrics.softFailed.Inc()
				case tasks.HardFailure:
					summary.HardFailed++
					e.config.Metrics.hardFailed.Inc()
				}
			})
			if aborted {
				mu.Lock()
				summary.AbortedPackages++
				mu.Unlock()
				e.config.Metrics.aborted.Inc()
			}
		}(pkg)
	}
	wg.Wait()

	e.config.Logger.Infof(ctx, "cycle complete: %d succeeded, %d soft-failed, %d hard-failed, %d of %d packages aborted",
		summary.Succeeded, summary.SoftFailed, summary.HardFailed, summary.AbortedPackages, summary.Packages)
	return summary, nil
}

// runPackage runs the plan's tasks for one package in order, reporting
// each result. It returns true if a hard failure aborted the package.
func (e *Engine) runPackage(ctx context.Context, pkg string, plan []string, report func(tasks.RunResult)) bool {
	for _, name := range plan {
		select {
		case <-ctx.Done():
			// Finish between tasks, never mid-apply.
			return false
		default:
		}

		d, err := e.config.Registry.Task(name)
		if err != nil {
			// Plan came from the same registry; this cannot happen.
			e.config.Logger.Errorf(ctx, "package %q: %v", pkg, err)
			return true
		}

		release := e.acquireSourceSlot(ctx, d.Source.Kind())
		if release == nil {
			return false
		}
		result := e.config.Runner.Run(ctx, pkg, d)
		release()

		report(result)
		if result.Outcome == tasks.HardFailure {
			e.config.Logger.Errorf(ctx, "package %q aborted at task %q: %v", pkg, name, result.Err)
			return true
		}
	}
	return false
}

// acquireSourceSlot blocks until a fetch slot for the source kind is
// free, returning the release function, or nil if the context is
// cancelled while waiting.
func (e *Engine) acquireSourceSlot(ctx context.Context, kind string) func() {
	slots, ok := e.sourceSlots[kind]
	if !ok {
		return func() {}
	}
	select {
	case <-ctx.Done():
		return nil
	case slots <- struct{}{}:
	}
	return func() { <-slots }
}
