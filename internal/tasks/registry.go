// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tasks

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	corerecord "github.com/distro-tracker/tracker/core/record"
)

// Registry holds the registered task descriptors and validates the
// dependency graph as tasks are added. Once every task is registered
// the registry is immutable configuration; Plan derives the execution
// order.
type Registry struct {
	order []string
	tasks map[string]Descriptor
}

// NewRegistry returns an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]Descriptor),
	}
}

// Register adds a task. It fails with ErrCyclicDependency if the task
// closes a dependency cycle, and with ErrDuplicateFieldWriter if
// another task writes one of the same fields with provably no ordering
// path between the two. Dependencies on tasks registered later are
// allowed; an ordering path through one only becomes checkable once
// every name resolves, so Plan repeats the duplicate-writer check and
// rejects names that never arrive.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return errors.Trace(err)
	}
	if _, ok := r.tasks[d.Name]; ok {
		return errors.AlreadyExistsf("task %q", d.Name)
	}

	r.tasks[d.Name] = d
	if err := r.checkAcyclic(d.Name); err != nil {
		delete(r.tasks, d.Name)
		return errors.Trace(err)
	}
	if err := r.checkFieldWriters(d); err != nil {
		delete(r.tasks, d.Name)
		return errors.Trace(err)
	}
	r.order = append(r.order, d.Name)
	return nil
}

// Task returns the named descriptor.
func (r *Registry) Task(name string) (Descriptor, error) {
	d, ok := r.tasks[name]
	if !ok {
		return Descriptor{}, errors.NotFoundf("task %q", name)
	}
	return d, nil
}

// FieldKeywords returns the field to keyword mapping declared across
// all registered tasks.
func (r *Registry) FieldKeywords() corerecord.KeywordMap {
	m := make(corerecord.KeywordMap)
	for _, name := range r.order {
		for _, w := range r.tasks[name].Writes {
			m[w.Name] = w.Keyword
		}
	}
	return m
}

// SourceKinds returns the set of source kinds across all registered
// tasks.
func (r *Registry) SourceKinds() set.Strings {
	kinds := set.NewStrings()
	for _, d := range r.tasks {
		kinds.Add(d.Source.Kind())
	}
	return kinds
}

// Plan returns the task names in execution order: a topological sort
// of the dependency graph, ties broken by registration order so the
// plan is deterministic. Tasks within one package must run in this
// order; distinct packages are independent.
func (r *Registry) Plan() ([]string, error) {
	indegree := make(map[string]int, len(r.tasks))
	dependents := make(map[string][]string, len(r.tasks))
	for _, name := range r.order {
		indegree[name] = 0
	}
	for _, name := range r.order {
		for _, dep := range r.tasks[name].DependsOn {
			if _, ok := r.tasks[dep]; !ok {
				return nil, errors.NotFoundf("task %q dependency %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}
	if err := r.checkAllFieldWriters(); err != nil {
		return nil, errors.Trace(err)
	}

	var plan []string
	ready := make([]string, 0, len(r.tasks))
	for _, name := range r.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	position := make(map[string]int, len(r.order))
	for i, name := range r.order {
		position[name] = i
	}
	for len(ready) > 0 {
		// Registration order breaks ties deterministically.
		next, at := ready[0], 0
		for i, name := range ready[1:] {
			if position[name] < position[next] {
				next, at = name, i+1
			}
		}
		ready = append(ready[:at], ready[at+1:]...)

		plan = append(plan, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(plan) != len(r.tasks) {
		return nil, errors.Trace(ErrCyclicDependency)
	}
	return plan, nil
}

// checkAcyclic walks the dependency graph from the named task. Edges
// to not-yet-registered tasks cannot close a cycle and are skipped.
func (r *Registry) checkAcyclic(name string) error {
	visited := set.NewStrings()
	var walk func(current string) error
	walk = func(current string) error {
		d, ok := r.tasks[current]
		if !ok {
			return nil
		}
		for _, dep := range d.DependsOn {
			if dep == name {
				return errors.Annotatef(ErrCyclicDependency, "task %q", name)
			}
			if visited.Contains(dep) {
				continue
			}
			visited.Add(dep)
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(name)
}

// checkFieldWriters rejects a second writer of any field unless the
// dependency graph orders the two writers. A walk that crosses a
// not-yet-registered dependency cannot prove the writers unordered, so
// the pair is let through and settled by checkAllFieldWriters at plan
// time.
func (r *Registry) checkFieldWriters(d Descriptor) error {
	for _, w := range d.Writes {
		for _, other := range r.order {
			if !writesField(r.tasks[other], w.Name) {
				continue
			}
			fwd, fwdConclusive := r.ordered(d.Name, other)
			if fwd {
				continue
			}
			back, backConclusive := r.ordered(other, d.Name)
			if back {
				continue
			}
			if fwdConclusive && backConclusive {
				return errors.Annotatef(ErrDuplicateFieldWriter,
					"field %q written by %q and %q", w.Name, other, d.Name)
			}
		}
	}
	return nil
}

// checkAllFieldWriters re-runs the duplicate-writer check over the
// whole registry. Every dependency resolves by the time Plan calls it,
// so the answer is final.
func (r *Registry) checkAllFieldWriters() error {
	for _, name := range r.order {
		for _, w := range r.tasks[name].Writes {
			for _, other := range r.order {
				if other == name {
					break
				}
				if !writesField(r.tasks[other], w.Name) {
					continue
				}
				if fwd, _ := r.ordered(name, other); fwd {
					continue
				}
				if back, _ := r.ordered(other, name); back {
					continue
				}
				return errors.Annotatef(ErrDuplicateFieldWriter,
					"field %q written by %q and %q", w.Name, other, name)
			}
		}
	}
	return nil
}

func writesField(d Descriptor, f corerecord.Field) bool {
	for _, w := range d.Writes {
		if w.Name == f {
			return true
		}
	}
	return false
}

// ordered reports whether from transitively depends on to. The second
// result is false when the walk crossed a dependency that is not yet
// registered; a negative first result is then not conclusive, as the
// missing task may supply the path.
func (r *Registry) ordered(from, to string) (bool, bool) {
	conclusive := true
	visited := set.NewStrings()
	var walk func(current string) bool
	walk = func(current string) bool {
		d, ok := r.tasks[current]
		if !ok {
			conclusive = false
			return false
		}
		for _, dep := range d.DependsOn {
			if dep == to {
				return true
			}
			if visited.Contains(dep) {
				continue
			}
			visited.Add(dep)
			if walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(from), conclusive
}
