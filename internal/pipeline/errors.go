package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTagSpec       = errors.New("invalid tag specification")
	ErrInvalidConfig        = errors.New("invalid pipeline configuration")
	ErrBuildStepFailed      = errors.New("build step failed")
	ErrRuntimeStepFailed    = errors.New("runtime step failed")
	ErrAuthenticationFailed = errors.New("registry authentication failed")
	ErrPublishFailed        = errors.New("publish failed")
	ErrToolFetch            = errors.New("tool fetch failed")
)

// Maximum number of stderr bytes retained on a step failure.
const stderrTail = 2048

// Stage names reported in step failures.
const (
	StageBuild   = "build"
	StageRuntime = "runtime"
)

// Describes a command that failed inside a stage container.
//
// The error unwraps to [ErrBuildStepFailed] or [ErrRuntimeStepFailed]
// depending on the stage, so callers can use errors.Is without inspecting
// the fields.
type StepError struct {
	Stage    string   // Stage that was running ("build" or "runtime").
	Index    int      // 1-based position of the step within its section.
	Section  string   // Section of the stage (e.g. "steps", "provision", "install").
	Command  []string // Command vector that was executed.
	ExitCode int      // Process exit code, or -1 if the process could not run.
	Stderr   string   // Tail of the captured standard error.
	Err      error    // Underlying transport error, if any.
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s step %d: %s", e.sentinel(), e.Section, e.Index, strings.Join(e.Command, " "))
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " (%s)", s)
	}
	return b.String()
}

func (e *StepError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.sentinel(), e.Err}
	}
	return []error{e.sentinel()}
}

func (e *StepError) sentinel() error {
	if e.Stage == StageBuild {
		return ErrBuildStepFailed
	}
	return ErrRuntimeStepFailed
}

// Describes a push that did not complete for a single tag.
type PublishError struct {
	Tag string // Tag that failed to publish.
	Err error  // Cause reported by the registry session.
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: tag %q: %v", ErrPublishFailed, e.Tag, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublishFailed, e.Err}
}

// Wraps err under the given sentinel so that both match with errors.Is.
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wraps a formatted message under the given sentinel.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
