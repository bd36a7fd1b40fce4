package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
)

const (

	// User that runs provisioning, copies, and ownership changes.
	rootUser = "0"

	// File name of the committed image archive.
	archiveFilename = "image.tar"
)

// Assembles and commits the runtime image.
//
// The order is fixed: provisioning, tools, workdir, artifact, source,
// removals, files, install, ownership, then the switch to the runtime user
// and the commit. Ownership changes run as root after every copy and the
// runtime user only takes effect in the committed configuration, so nothing
// privileged happens after the switch.
func (r *run) assemble(ctx context.Context, eng Engine, artifact Directory) (*Image, error) {
	rt := r.cfg.Runtime
	slog.Info("runtime stage", "base", rt.Base, "provision", len(rt.Provision), "tools", len(rt.Tools))

	ctr, err := r.start(ctx, eng, rt.Base, StageRuntime)
	if err != nil {
		return nil, err
	}

	// The image environment is only recorded at commit.
	state := newStepState("", rt.CommandEnv)
	state.user = rootUser

	if err := runSteps(ctx, ctr, StageRuntime, "provision", rt.Provision, state); err != nil {
		return nil, err
	}

	if err := r.installTools(ctx, ctr); err != nil {
		return nil, err
	}

	if rt.Workdir != "" {
		op := r.op("workdir", 1, "mkdir", "-p", rt.Workdir)
		if err := op.run(ctx, ctr); err != nil {
			return nil, err
		}
		state.workdir = rt.Workdir
	}

	if err := r.copyIn(ctx, ctr, "artifact", artifact, r.cfg.runtimeArtifact()); err != nil {
		return nil, err
	}

	if rt.Source != nil {
		dest := resolvePath(rt.Workdir, rt.Source.Path)
		if err := r.copyIn(ctx, ctr, "source", r.runtimeSrc, dest); err != nil {
			return nil, err
		}
	}

	if len(rt.Remove) > 0 {
		op := r.op("remove", 1, append([]string{"rm", "-rf"}, rt.Remove...)...)
		if err := op.run(ctx, ctr); err != nil {
			return nil, err
		}
	}

	for i, f := range rt.Files {
		if err := r.writeFile(ctx, ctr, i+1, f); err != nil {
			return nil, err
		}
	}

	if err := runSteps(ctx, ctr, StageRuntime, "install", rt.Install, state); err != nil {
		return nil, err
	}

	if o := rt.Ownership; o != nil {
		op := r.op("ownership", 1, append([]string{"chown", "-R", o.User}, o.Paths...)...)
		if err := op.run(ctx, ctr); err != nil {
			return nil, err
		}
	}

	return r.commit(ctx, ctr)
}

// Fetches every tool on the host and writes it into the container.
func (r *run) installTools(ctx context.Context, ctr Container) error {
	for i, t := range r.cfg.Runtime.Tools {
		op := r.op("tools", i+1, "fetch", t.Name, t.URL)

		data, err := r.fetcher.fetch(ctx, t)
		if err != nil {
			return op.failure(-1, "", err)
		}

		mode := t.Mode
		if mode == 0 {
			mode = DefaultToolMode
		}
		if err := ctr.WriteFile(ctx, t.Path, data, mode); err != nil {
			return op.failure(-1, "", err)
		}

		slog.Info("tool installed", "name", t.Name, "path", t.Path)
	}
	return nil
}

// Streams src into dest inside the container.
func (r *run) copyIn(ctx context.Context, ctr Container, section string, src Source, dest string) error {
	slog.Debug("copy", "section", section, "dest", dest)
	if err := ctr.CopyIn(ctx, src, dest); err != nil {
		return r.op(section, 1, "copy", section, dest).failure(-1, "", err)
	}
	return nil
}

// Writes a literal file into the container.
func (r *run) writeFile(ctx context.Context, ctr Container, index int, f File) error {
	mode := f.Mode
	if mode == 0 {
		mode = DefaultFileMode
	}
	if err := ctr.WriteFile(ctx, f.Path, []byte(f.Contents), mode); err != nil {
		return r.op("files", index, "write", f.Path).failure(-1, "", err)
	}
	return nil
}

// Commits the container with the runtime configuration.
func (r *run) commit(ctx context.Context, ctr Container) (*Image, error) {
	cfg := r.imageConfig()
	archive := filepath.Join(r.output, archiveFilename)

	img, err := ctr.Commit(ctx, cfg, archive, r.references())
	if err != nil {
		return nil, r.op("commit", 1, "commit", archive).failure(-1, "", err)
	}

	slog.Info("image committed", "archive", img.Archive, "ref", img.Ref)
	return img, nil
}

// Builds the configuration recorded on the runtime image.
func (r *run) imageConfig() ImageConfig {
	rt := r.cfg.Runtime

	cfg := ImageConfig{
		User:       rt.User,
		Workdir:    rt.Workdir,
		Env:        environ(rt.Env),
		Entrypoint: slices.Clone(rt.Entrypoint),
		Cmd:        slices.Clone(rt.Cmd),
		Labels:     imageLabels(rt.Labels, r.name, r.tags, r.revision),
	}

	for _, port := range rt.Expose {
		cfg.ExposedPorts = append(cfg.ExposedPorts, fmt.Sprintf("%d/tcp", port))
	}

	if h := rt.Healthcheck; h != nil {
		cfg.Healthcheck = &Healthcheck{
			Test:        healthTest(h.Test),
			Interval:    h.Interval.Std(),
			Timeout:     h.Timeout.Std(),
			StartPeriod: h.StartPeriod.Std(),
			Retries:     h.Retries,
		}
	}

	return cfg
}

// Returns a runtime-stage operation run as root.
func (r *run) op(section string, index int, argv ...string) operation {
	return operation{
		stage:   StageRuntime,
		section: section,
		index:   index,
		argv:    argv,
		opts:    ExecOptions{User: rootUser},
	}
}

// Prefixes a probe command with "CMD" unless it already names its form.
func healthTest(test []string) []string {
	if len(test) > 0 {
		switch test[0] {
		case "CMD", "CMD-SHELL", "NONE":
			return slices.Clone(test)
		}
	}
	return append([]string{"CMD"}, test...)
}
