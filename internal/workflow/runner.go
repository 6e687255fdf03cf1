package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas"
)

// AbortKind classifies why a run was aborted.
type AbortKind string

const (
	// StepFailure: a driver call returned an empty or false result.
	StepFailure AbortKind = "step_failure"
	// UnexpectedException: a driver call returned an error or panicked.
	UnexpectedException AbortKind = "unexpected_exception"
)

// ErrAborted matches every *AbortError via errors.Is.
var ErrAborted = errors.New("run aborted")

// AbortError is returned by a run that called Driver.Exit.
type AbortError struct {
	Kind    AbortKind
	Step    string
	Message string
	// Orphaned lists resources still allocated when the run stopped.
	Orphaned []string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s at step %q: %s", e.Kind, e.Step, e.Message)
}

func (e *AbortError) Is(target error) bool { return target == ErrAborted }

// Runner evaluates plans against one driver. A Runner serves exactly one run:
// it aborts at most once and finalizes at most once.
type Runner struct {
	drv    iaas.Driver
	log    zerolog.Logger
	held   []string
	abort  *AbortError
	closed bool
}

// NewRunner binds a runner to a driver and tags its logs with a run id.
func NewRunner(drv iaas.Driver, action string) *Runner {
	return &Runner{
		drv: drv,
		log: log.With().Str("action", action).Str("run_id", uuid.NewString()).Logger(),
	}
}

// Start initializes the driver before the first plan runs.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.drv.Initialize(ctx); err != nil {
		return r.fail(ctx, UnexpectedException, "initialize", fmt.Sprintf("An unexpected exception occurred: %v", err))
	}
	return nil
}

// Run executes steps in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, p *Plan) error {
	if r.abort != nil {
		return r.abort
	}
	r.log.Debug().Int("steps", p.Len()).Strs("plan", p.Names()).Msg("running plan")
	for _, s := range p.steps {
		start := time.Now()
		r.log.Debug().Str("step", s.Name).Msg("starting step")

		done, err := r.call(ctx, s)
		if err != nil {
			return r.fail(ctx, UnexpectedException, s.Name, fmt.Sprintf("An unexpected exception occurred: %v", err))
		}
		if !done {
			m := s.Name
			if s.Failure != nil {
				m = s.Failure()
			}
			return r.fail(ctx, StepFailure, s.Name, m)
		}

		if s.Acquires != nil {
			r.held = append(r.held, s.Acquires())
		}
		if s.Releases != nil {
			r.release(s.Releases())
		}
		r.log.Info().Str("step", s.Name).Dur("elapsed_ms", time.Since(start)).Msg("step OK")
	}
	return nil
}

// Finish finalizes the driver after a successful run.
func (r *Runner) Finish(ctx context.Context) error {
	if r.abort != nil {
		return r.abort
	}
	if r.closed {
		return nil
	}
	if err := r.drv.Finalize(ctx); err != nil {
		return r.fail(ctx, UnexpectedException, "finalize", fmt.Sprintf("An unexpected exception occurred: %v", err))
	}
	r.closed = true
	r.log.Info().Msg("run finalized")
	return nil
}

// Held returns the resources currently allocated by this run.
func (r *Runner) Held() []string {
	return append([]string(nil), r.held...)
}

func (r *Runner) call(ctx context.Context, s Step) (done bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			done, err = false, fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.Do(ctx)
}

func (r *Runner) release(res string) {
	for i := len(r.held) - 1; i >= 0; i-- {
		if r.held[i] == res {
			r.held = append(r.held[:i], r.held[i+1:]...)
			return
		}
	}
}

func (r *Runner) fail(ctx context.Context, kind AbortKind, step, message string) error {
	r.abort = &AbortError{Kind: kind, Step: step, Message: message, Orphaned: r.Held()}

	ev := r.log.Error().Str("step", step).Str("kind", string(kind))
	if len(r.abort.Orphaned) > 0 {
		ev = ev.Strs("orphaned", r.abort.Orphaned)
	}
	ev.Msg(message)

	r.drv.Exit(ctx, message)
	return r.abort
}
