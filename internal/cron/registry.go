package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one unit of work the cron worker runs each cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs by unique name in registration order.
type Registry struct {
	jobs  []Job
	index map[string]int
}

// NewRegistry registers jobs in order. Nil jobs and repeated names are
// ignored; use Register to see the error.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, job := range jobs {
		_ = r.Register(job)
	}
	return r
}

// Register adds job unless another job already owns its name.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if _, dup := r.index[name]; dup {
		return fmt.Errorf("cron job %q already registered", name)
	}
	r.index[name] = len(r.jobs)
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Names lists job names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}

// Select narrows the registry to the named jobs, keeping registration order.
// Blank names are ignored and an empty selection returns the registry unchanged.
func (r *Registry) Select(names ...string) (*Registry, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.index[name]; !ok {
			return nil, fmt.Errorf("unknown cron job %q (have %s)", name, strings.Join(r.Names(), ", "))
		}
		wanted[name] = true
	}
	if len(wanted) == 0 {
		return r, nil
	}
	out := NewRegistry()
	for _, job := range r.jobs {
		if wanted[job.Name()] {
			_ = out.Register(job)
		}
	}
	return out, nil
}
