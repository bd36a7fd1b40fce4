package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/cruciblehq/cruxpipe/internal"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Root command and global flags.
type rootCmd struct {
	Quiet   bool   `short:"q" help:"Suppress informational output." env:"CRUXPIPE_QUIET"`
	Verbose bool   `short:"v" help:"Enable verbose output." env:"CRUXPIPE_VERBOSE"`
	Debug   bool   `short:"d" help:"Enable debug output." env:"CRUXPIPE_DEBUG"`
	Socket  string `short:"s" help:"Override the default daemon socket path." placeholder:"PATH" env:"CRUXPIPE_SOCKET"`
	NoColor bool   `name:"no-color" help:"Disable colored output."`

	Run     RunCmd     `cmd:"" help:"Build the image and publish it under every tag."`
	Plan    PlanCmd    `cmd:"" help:"Show what a run would do without starting anything."`
	Presets PresetsCmd `cmd:"" help:"List built-in pipeline configurations, or print one."`
	Serve   ServeCmd   `cmd:"" help:"Run the daemon."`
	Status  StatusCmd  `cmd:"" help:"Show daemon status."`
	Stop    StopCmd    `cmd:"" help:"Stop the daemon."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Represents the root command for cruxpipe.
var RootCmd rootCmd

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds a container image in two stages and publishes it to a registry.\n\nRuns locally against containerd or Docker, or through the cruxpipe daemon."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	if RootCmd.Debug {
		internal.SetDebug(true)
	}
	if RootCmd.Quiet {
		internal.SetQuiet(true)
	}
	if RootCmd.Verbose {
		internal.SetVerbose(true)
	}
	if RootCmd.NoColor || !isatty.IsTerminal(os.Stderr.Fd()) {
		internal.SetNoColor(true)
	}

	color.NoColor = internal.IsNoColor()

	logger, ok := slog.Default().Handler().(*log.Logger)
	if !ok {
		return // Not a charm logger, nothing to configure
	}

	logger.SetLevel(Level())
	logger.SetReportTimestamp(internal.IsVerbose() || internal.IsDebug())
	if internal.IsNoColor() {
		logger.SetColorProfile(termenv.Ascii)
	}
}

// Returns the log level selected by flags and linker defaults.
//
// Debug wins over quiet.
func Level() log.Level {
	if internal.IsDebug() {
		return log.DebugLevel
	}
	if internal.IsQuiet() {
		return log.WarnLevel
	}
	return log.InfoLevel
}
