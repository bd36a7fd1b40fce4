package pipeline

import (
	"maps"
	"slices"
)

// Tracks accumulated modifiers while a section of steps runs.
//
// Modifier-only steps update the state permanently via apply. Operations
// read their effective values via resolve without touching the state.
type stepState struct {
	shell   string
	workdir string
	user    string
	env     map[string]string
}

// Creates a new [stepState] seeded with a working directory and environment.
func newStepState(workdir string, env map[string]string) *stepState {
	s := &stepState{
		shell:   DefaultShell,
		workdir: workdir,
		env:     make(map[string]string, len(env)),
	}
	maps.Copy(s.env, env)
	return s
}

// Persists the modifiers of a step for all following steps.
func (s *stepState) apply(step Step) {
	if step.Shell != "" {
		s.shell = step.Shell
	}
	if step.Workdir != "" {
		s.workdir = step.Workdir
	}
	if step.User != "" {
		s.user = step.User
	}
	maps.Copy(s.env, step.Env)
}

// Returns the state with the step's own modifiers overlaid. The receiver is
// not modified.
func (s *stepState) resolve(step Step) *stepState {
	resolved := &stepState{
		shell:   s.shell,
		workdir: s.workdir,
		user:    s.user,
		env:     make(map[string]string, len(s.env)+len(step.Env)),
	}
	maps.Copy(resolved.env, s.env)
	maps.Copy(resolved.env, step.Env)

	if step.Shell != "" {
		resolved.shell = step.Shell
	}
	if step.Workdir != "" {
		resolved.workdir = step.Workdir
	}
	if step.User != "" {
		resolved.user = step.User
	}

	return resolved
}

// Formats the environment as sorted "key=value" strings.
func (s *stepState) environ() []string {
	return environ(s.env)
}

// Returns the command vector for an operation.
func (s *stepState) argv(step Step) []string {
	if len(step.Exec) > 0 {
		return step.Exec
	}
	return []string{s.shell, "-c", step.Run}
}

// Returns the exec options for an operation.
func (s *stepState) options() ExecOptions {
	return ExecOptions{
		Env:     s.environ(),
		Workdir: s.workdir,
		User:    s.user,
	}
}

// Formats a map as sorted "key=value" strings.
func environ(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		env = append(env, k+"="+m[k])
	}
	return env
}
