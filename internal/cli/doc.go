// Parses flags and configures logging for the cruxpipe command.
//
// Global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-s, --socket    Daemon socket path.
//	    --no-color  Disable colored output.
//
// Flags override build-time defaults set via linker flags, and most flags
// fall back to a CRUXPIPE_* environment variable. After parsing, the global
// logger is reconfigured to reflect the final level before the command runs.
//
// The run command executes in-process unless --remote is given, in which
// case the request is sent to a daemon started with the serve command.
package cli
