// Package job turns a run request into a configured pipeline run.
//
// A [Request] carries everything a run needs as plain, serialisable values
// (paths, names, secret references) so the same request can be executed in
// the CLI process or sent to the daemon. [Run] loads the pipeline
// configuration, opens the source tree, selects the container engine,
// resolves registry credentials, and calls the pipeline.
package job
