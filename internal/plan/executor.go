package plan

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/cargo-optee/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

// ErrSkipped marks a component that did not run because the run was
// stopped by a failure elsewhere.
var ErrSkipped = errors.New("skipped due to upstream failure")

// BuildFunc builds a single component.
type BuildFunc func(ctx context.Context, c *Component) error

// Status is the outcome of one component in a run.
type Status int

const (
	Pending Status = iota
	Done
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "pending"
	}
}

// Report records the status of every component after a run.
type Report struct {
	mu       sync.Mutex
	statuses map[string]Status
	failure  error
}

func (r *Report) set(id string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = s
}

func (r *Report) fail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = Failed
	if r.failure == nil {
		r.failure = err
	}
}

func (r *Report) firstFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Status returns the recorded outcome of a component.
func (r *Report) Status(id string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

// Executor runs a plan with bounded concurrency.
type Executor struct {
	jobs int
}

// NewExecutor returns an executor that builds at most jobs components at a
// time. Values below one mean one.
func NewExecutor(jobs int) *Executor {
	if jobs < 1 {
		jobs = 1
	}
	return &Executor{jobs: jobs}
}

// Run calls fn for every component once all of its dependencies have
// succeeded. A component takes one of the jobs slots only when it is ready
// to build, and ready components start in plan order. The first failure
// cancels the run; components that have not started yet are skipped and
// the failure is returned.
func (e *Executor) Run(ctx context.Context, p *Plan, fn BuildFunc) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	report := &Report{statuses: make(map[string]Status, len(p.order))}
	for _, id := range p.order {
		report.statuses[id] = Pending
	}

	g, gctx := errgroup.WithContext(ctx)
	finished := make(chan struct{}, len(p.order))
	waiting := p.Order()
	running := 0
	logger.Info("🚀 Running plan", "components", len(p.order), "jobs", e.jobs)

	for {
		if gctx.Err() == nil && report.firstFailure() == nil {
			waiting = slices.DeleteFunc(waiting, func(id string) bool {
				c := p.byID[id]
				if running >= e.jobs || !dependenciesDone(report, c) {
					return false
				}
				running++
				g.Go(func() error {
					defer func() { finished <- struct{}{} }()
					return e.build(gctx, report, c, fn)
				})
				return true
			})
		}
		if running == 0 {
			break
		}
		<-finished
		running--
	}

	for _, id := range waiting {
		report.set(id, Skipped)
		logger.Warn("Skipping component.", "component", id)
	}

	if err := g.Wait(); err != nil {
		if failure := report.firstFailure(); failure != nil {
			return report, failure
		}
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(waiting) > 0 {
		return report, fmt.Errorf("%d components: %w", len(waiting), ErrSkipped)
	}
	logger.Info("✅ Plan finished", "components", len(p.order))
	return report, nil
}

func dependenciesDone(report *Report, c *Component) bool {
	for _, dep := range c.DependsOn {
		if report.Status(dep) != Done {
			return false
		}
	}
	return true
}

func (e *Executor) build(ctx context.Context, report *Report, c *Component, fn BuildFunc) error {
	cctx, clog := ctxlog.With(ctx, "component", c.ID)
	clog.Info("▶️ Building component", "kind", c.Kind, "dir", c.Dir)
	if err := fn(cctx, c); err != nil {
		err = fmt.Errorf("component %s: %w", c.ID, err)
		report.fail(c.ID, err)
		clog.Error("Component failed.", "error", err)
		return err
	}
	report.set(c.ID, Done)
	clog.Info("✅ Component finished")
	return nil
}
