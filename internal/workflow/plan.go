package workflow

import (
	"context"
	"fmt"
)

// StepFunc performs one driver call. false means the step failed.
type StepFunc func(ctx context.Context) (bool, error)

// Step is one entry of a Plan.
type Step struct {
	Name string
	Do   StepFunc
	// Failure builds the abort message. It is evaluated only when Do
	// returns false, so it may reference values produced by earlier steps.
	Failure func() string
	// Acquires names the resource the step leaves allocated once it succeeds.
	Acquires func() string
	// Releases names the resource the step gives back once it succeeds.
	Releases func() string
}

// Plan is an ordered list of steps built once and evaluated by a Runner.
type Plan struct {
	steps []Step
}

func (p *Plan) add(s Step) *Plan {
	p.steps = append(p.steps, s)
	return p
}

// Do appends a step without resource bookkeeping.
func (p *Plan) Do(name string, do StepFunc, failure func() string) *Plan {
	return p.add(Step{Name: name, Do: do, Failure: failure})
}

// Acquire appends a step that allocates the resource named by res.
func (p *Plan) Acquire(name string, do StepFunc, failure, res func() string) *Plan {
	return p.add(Step{Name: name, Do: do, Failure: failure, Acquires: res})
}

// Release appends a step that frees the resource named by res.
func (p *Plan) Release(name string, do StepFunc, failure, res func() string) *Plan {
	return p.add(Step{Name: name, Do: do, Failure: failure, Releases: res})
}

// Append adds every step of other after the current ones.
func (p *Plan) Append(other *Plan) *Plan {
	if other != nil {
		p.steps = append(p.steps, other.steps...)
	}
	return p
}

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.steps) }

// Names lists step names in order.
func (p *Plan) Names() []string {
	out := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		out = append(out, s.Name)
	}
	return out
}

func msg(format string, args ...any) func() string {
	return func() string { return fmt.Sprintf(format, args...) }
}

func ok[T any](v *T, err error) (bool, error) {
	return v != nil, err
}

func nonEmpty(s string, err error) (bool, error) {
	return s != "", err
}
