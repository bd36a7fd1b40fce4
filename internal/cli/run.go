package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cruciblehq/cruxpipe/internal"
	"github.com/cruciblehq/cruxpipe/internal/job"
	"github.com/cruciblehq/cruxpipe/internal/server"
	"github.com/fatih/color"
)

// Represents the 'cruxpipe run' command.
type RunCmd struct {
	targetFlags `embed:""`
	engineFlags `embed:""`

	Username     string   `short:"u" help:"Registry username. Without credentials the image is only built." env:"CRUXPIPE_USERNAME"`
	PasswordFrom string   `name:"password-from" placeholder:"REF" help:"Where to read the registry password: env:VAR, file:PATH, or awssm:NAME[#KEY]." env:"CRUXPIPE_PASSWORD_FROM"`
	EnvFile      []string `name:"env-file" type:"path" help:"Dotenv file consulted by env: references. Repeatable." env:"CRUXPIPE_ENV_FILE"`
	Output       string   `short:"o" type:"path" help:"Directory for the image archive. Defaults to the user cache." env:"CRUXPIPE_OUTPUT"`
	PlainHTTP    bool     `name:"plain-http" help:"Talk plain HTTP to the registry." env:"CRUXPIPE_PLAIN_HTTP"`
	Concurrency  int      `help:"Maximum pushes in flight. Overrides the pipeline file." env:"CRUXPIPE_CONCURRENCY"`
	Remote       bool     `help:"Send the run to the cruxpipe daemon." env:"CRUXPIPE_REMOTE"`
}

// Executes the run command.
//
// On success the digest-qualified references are printed to stdout, one per
// line in tag order; a local build prints the archive path instead. The
// summary goes to stderr.
func (c *RunCmd) Run(ctx context.Context) error {
	req := c.request()
	if err := req.Validate(); err != nil {
		return err
	}

	res, err := c.execute(ctx, req)
	if res != nil {
		report(os.Stdout, os.Stderr, res, err == nil)
	}
	return err
}

// Builds the job request from the command flags.
func (c *RunCmd) request() *job.Request {
	req := c.targetFlags.request()
	req.Username = c.Username
	req.PasswordFrom = c.PasswordFrom
	req.EnvFiles = c.EnvFile
	req.Output = c.Output
	req.PlainHTTP = c.PlainHTTP
	req.Concurrency = c.Concurrency
	req.Engine = c.engineFlags.config()
	return req
}

// Runs the request in-process or on the daemon.
func (c *RunCmd) execute(ctx context.Context, req *job.Request) (*server.RunResult, error) {
	if c.Remote {
		return server.Dial(RootCmd.Socket).Run(ctx, req)
	}

	result, err := job.Run(ctx, req)
	if result == nil {
		return nil, err
	}
	return server.NewRunResult(result), err
}

// Writes the run summary to stderr and the machine-readable output to stdout.
//
// stdout is only written when the run succeeded.
func report(stdout, stderr io.Writer, res *server.RunResult, succeeded bool) {
	if !internal.IsQuiet() {
		summary(stderr, res)
	}
	if !succeeded {
		return
	}
	if len(res.Published) == 0 {
		fmt.Fprintln(stdout, res.Archive)
		return
	}
	for _, ref := range res.References {
		fmt.Fprintln(stdout, ref)
	}
}

// Writes one line per tag outcome.
func summary(w io.Writer, res *server.RunResult) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(w, "%s %s %s\n", ok("built"), res.Image, dim(res.Digest))
	if res.Archive != "" {
		fmt.Fprintf(w, "  %s %s\n", dim("archive"), res.Archive)
	}

	for _, p := range res.Published {
		ref := res.Image + ":" + p.Tag
		switch {
		case p.Skipped:
			fmt.Fprintf(w, "%s %s\n", dim("skipped"), ref)
		case p.Error != "":
			fmt.Fprintf(w, "%s %s: %s\n", bad("failed"), ref, p.Error)
		default:
			fmt.Fprintf(w, "%s %s\n", ok("pushed"), p.Reference)
		}
	}
}
