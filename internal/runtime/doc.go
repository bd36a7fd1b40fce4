// Package runtime runs pipeline stages as containerd containers.
//
// A [Runtime] connects to a containerd daemon and implements the pipeline
// engine. Base images are pulled for the target platform, unpacked into the
// configured snapshotter, and used to create containers whose task is a
// long-running "sleep infinity" so commands can be executed against them.
//
// Each [Container] supports exec with per-call environment, working
// directory, and user; tar streams in and out; and a commit that stores the
// filesystem diff as a new layer and exports the resulting image as an OCI
// archive. The base image record is never modified. When a container is no
// longer needed it should be destroyed to release its snapshot and task.
//
// Example usage:
//
//	rt, err := runtime.New(runtime.Config{})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	ctr, err := rt.Start(ctx, "node:20-alpine", "cruxpipe-1a2b3c4d-build")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	res, err := ctr.Exec(ctx, []string{"/bin/sh", "-c", "npm ci"}, pipeline.ExecOptions{Workdir: "/app"})
//	if err != nil {
//	    return err
//	}
package runtime
