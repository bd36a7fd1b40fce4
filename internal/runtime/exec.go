package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Runs a command vector inside the container.
//
// Environment entries are merged over the container's own, and the working
// directory and user replace the image defaults when set. A non-zero exit
// code is reported in the result, not as an error.
func (c *Container) Exec(ctx context.Context, argv []string, opts pipeline.ExecOptions) (*pipeline.ExecResult, error) {
	pspec, err := c.buildProcessSpec(ctx, opts, argv...)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	exitCode, err := c.execProcess(ctx, pspec, nil, &stdout, &stderr)
	if err != nil {
		return nil, err
	}

	return &pipeline.ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Builds an OCI process spec for running a command inside the container.
//
// The base values are copied from the container's own OCI spec, then env,
// workdir, and user are overridden if provided.
func (c *Container) buildProcessSpec(ctx context.Context, opts pipeline.ExecOptions, args ...string) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if len(opts.Env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, opts.Env)
	}
	if opts.Workdir != "" {
		pspec.Cwd = opts.Workdir
	}
	if opts.User != "" {
		user, err := c.lookupUser(ctx, opts.User)
		if err != nil {
			return nil, err
		}
		pspec.User = user
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice.
//
// Keys keep the position of their first appearance in base; new keys are
// appended in override order.
func mergeEnv(base, overrides []string) []string {
	values := make(map[string]string, len(base)+len(overrides))
	var order []string

	for _, list := range [][]string{base, overrides} {
		for _, entry := range list {
			k, v, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			if _, seen := values[k]; !seen {
				order = append(order, k)
			}
			values[k] = v
		}
	}

	result := make([]string, 0, len(order))
	for _, k := range order {
		result = append(result, k+"="+values[k])
	}
	return result
}

// Runs a command as root, returning an error that includes desc if the
// process exits with a non-zero code.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	pspec, err := c.buildProcessSpec(ctx, pipeline.ExecOptions{}, args...)
	if err != nil {
		return err
	}
	pspec.User = specs.User{UID: 0, GID: 0}

	var stderr bytes.Buffer
	exitCode, err := c.execProcess(ctx, pspec, stdin, stdout, &stderr)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return wrapf(ErrRuntime, "%s failed with exit code %d (%s)", desc, exitCode, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Starts a process inside the container's running task, waits for it to exit,
// and returns the exit code.
//
// The process is attached to the task as an additional exec. Nil streams are
// replaced with io.Discard (stdout/stderr) or left disconnected (stdin).
//
// When stdin is provided, the container's stdin is explicitly closed after the
// reader is exhausted so the exec process receives the EOF signal. The
// containerd shim holds both ends of the stdin FIFO open and does not
// propagate EOF on its own.
func (c *Container) execProcess(ctx context.Context, pspec *specs.Process, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	var stdinDone <-chan struct{}
	if stdin != nil {
		dr := newDoneReader(stdin)
		stdin = dr
		stdinDone = dr.done
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return 0, wrap(ErrRuntime, err)
	}

	return awaitProcess(ctx, process, stdinDone)
}

// Loads the container's running task.
func (c *Container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	return task, nil
}

// Waits for an exec process to exit and returns the exit code.
//
// If stdinDone is non-nil, the process stdin is closed when the channel fires.
// The process is always deleted before returning. When ctx ends first the
// process is killed and the context error is returned.
func awaitProcess(ctx context.Context, process containerd.Process, stdinDone <-chan struct{}) (int, error) {
	cleanup := context.WithoutCancel(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(cleanup)
		return 0, wrap(ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(cleanup)
		return 0, wrap(ErrRuntime, err)
	}

	if stdinDone != nil {
		go func() {
			<-stdinDone
			process.CloseIO(cleanup, containerd.WithStdinCloser)
		}()
	}

	var exitStatus containerd.ExitStatus
	select {
	case exitStatus = <-statusC:
	case <-ctx.Done():
		process.Kill(cleanup, syscall.SIGKILL)
		process.Delete(cleanup, containerd.WithProcessKill)
		return 0, wrap(ErrRuntime, ctx.Err())
	}
	process.Delete(cleanup)

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, wrap(ErrRuntime, err)
	}

	return int(code), nil
}

// Wraps an [io.Reader] and signals when it stops producing data.
//
// The done channel is closed exactly once on the first error, EOF included,
// so a failed producer still releases the exec process.
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
