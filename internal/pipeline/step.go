package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// A single command bound for a stage container.
type operation struct {
	stage   string      // Stage name reported on failure.
	section string      // Section name reported on failure.
	index   int         // 1-based position within the section.
	argv    []string    // Command vector.
	opts    ExecOptions // Exec overrides.
}

// Runs the operation and converts a failed exec into a [StepError].
func (op operation) run(ctx context.Context, ctr Container) error {
	slog.Debug("exec", "stage", op.stage, "section", op.section, "step", op.index, "argv", op.argv, "user", op.opts.User)

	res, err := ctr.Exec(ctx, op.argv, op.opts)
	if err != nil {
		return op.failure(-1, "", err)
	}
	if res.ExitCode != 0 {
		return op.failure(res.ExitCode, res.Stderr, nil)
	}
	return nil
}

func (op operation) failure(code int, stderr string, err error) *StepError {
	return &StepError{
		Stage:    op.stage,
		Section:  op.section,
		Index:    op.index,
		Command:  op.argv,
		ExitCode: code,
		Stderr:   tail(stderr, stderrTail),
		Err:      err,
	}
}

// Executes a section of steps in order.
//
// Modifier-only steps update state for every following step. Operations run
// with their own modifiers overlaid and never change state. Working
// directories are created the first time an operation uses them.
func runSteps(ctx context.Context, ctr Container, stage, section string, steps []Step, state *stepState) error {
	created := make(map[string]bool)

	for i, step := range steps {
		if !step.IsOperation() {
			state.apply(step)
			continue
		}

		resolved := state.resolve(step)
		op := operation{
			stage:   stage,
			section: section,
			index:   i + 1,
			argv:    resolved.argv(step),
			opts:    resolved.options(),
		}

		if wd := resolved.workdir; wd != "" && !created[wd] {
			mkdir := op
			mkdir.argv = []string{"mkdir", "-p", wd}
			mkdir.opts = ExecOptions{User: resolved.user}
			if err := mkdir.run(ctx, ctr); err != nil {
				return err
			}
			created[wd] = true
		}

		if err := runOperation(ctx, ctr, op, step.Timeout.Std()); err != nil {
			return err
		}
	}
	return nil
}

// Runs op with an optional deadline.
func runOperation(ctx context.Context, ctr Container, op operation, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return op.run(ctx, ctr)
}
