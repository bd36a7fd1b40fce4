package pipeline

import (
	"context"
	"log/slog"
)

// Runs the build stage and returns a lazy handle to its artifact.
//
// The filtered source tree is copied to the build workdir and the steps run
// in order in the same container. The artifact directory is not read here;
// it is streamed when the runtime stage copies it. Any failure aborts the
// run before the runtime stage starts.
func (r *run) build(ctx context.Context, eng Engine) (Directory, error) {
	b := r.cfg.Build
	slog.Info("build stage", "base", b.Base, "steps", len(b.Steps))

	ctr, err := r.start(ctx, eng, b.Base, StageBuild)
	if err != nil {
		return nil, err
	}

	if err := ctr.CopyIn(ctx, r.buildSrc, b.Workdir); err != nil {
		return nil, &StepError{
			Stage:    StageBuild,
			Section:  "source",
			Index:    1,
			Command:  []string{"copy", "source", b.Workdir},
			ExitCode: -1,
			Err:      err,
		}
	}

	state := newStepState(b.Workdir, b.Env)
	if err := runSteps(ctx, ctr, StageBuild, "steps", b.Steps, state); err != nil {
		return nil, err
	}

	artifact := ctr.Directory(r.cfg.buildArtifact())
	slog.Debug("build artifact", "path", artifact.Path())
	return artifact, nil
}
