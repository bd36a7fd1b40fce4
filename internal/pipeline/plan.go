package pipeline

import (
	"fmt"
	"strings"

	"github.com/cruciblehq/cruxpipe/internal/source"
)

// Human-readable description of what a run would do.
type Plan struct {
	Image      string            `yaml:"image"`
	Tags       []string          `yaml:"tags"`
	References []string          `yaml:"references"`
	Build      []string          `yaml:"build"`
	Runtime    []string          `yaml:"runtime"`
	Labels     map[string]string `yaml:"labels,omitempty"`
	Publish    string            `yaml:"publish"`
}

// Describes a run without starting anything.
//
// The configuration is validated and the tags resolved exactly as [Run]
// would. rev may be nil.
func NewPlan(cfg *Config, registry, image, tagSpec string, rev *source.Revision) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tags, err := ResolveTags(tagSpec, TagOptions{
		KeepDuplicates: cfg.Publish.KeepDuplicates,
		Floating:       cfg.Publish.Floating,
	})
	if err != nil {
		return nil, err
	}

	r := &run{cfg: cfg, name: NormalizeImageName(registry, image), tags: tags, revision: rev}

	plan := &Plan{
		Image:      r.name.Repository(),
		Tags:       tags,
		References: r.references(),
		Build:      r.describeBuild(),
		Runtime:    r.describeRuntime(),
		Labels:     imageLabels(cfg.Runtime.Labels, r.name, tags, rev),
		Publish:    describePublish(cfg.Publish),
	}
	return plan, nil
}

func (r *run) describeBuild() []string {
	b := r.cfg.Build
	lines := []string{
		"from " + b.Base,
		"copy source -> " + b.Workdir + filters(b.Include, b.Exclude),
	}
	lines = append(lines, describeSteps(b.Steps, newStepState(b.Workdir, b.Env))...)
	return append(lines, "artifact "+r.cfg.buildArtifact())
}

func (r *run) describeRuntime() []string {
	rt := r.cfg.Runtime
	state := newStepState("", rt.CommandEnv)
	state.user = rootUser

	lines := []string{"from " + rt.Base}
	lines = append(lines, describeSteps(rt.Provision, state)...)
	for _, t := range rt.Tools {
		lines = append(lines, fmt.Sprintf("fetch %s %s -> %s", t.Name, t.URL, t.Path))
	}
	if rt.Workdir != "" {
		lines = append(lines, "workdir "+rt.Workdir)
		state.workdir = rt.Workdir
	}
	lines = append(lines, "copy artifact -> "+r.cfg.runtimeArtifact())
	if s := rt.Source; s != nil {
		lines = append(lines, "copy source -> "+resolvePath(rt.Workdir, s.Path)+filters(s.Include, s.Exclude))
	}
	if len(rt.Remove) > 0 {
		lines = append(lines, "remove "+strings.Join(rt.Remove, " "))
	}
	for _, f := range rt.Files {
		lines = append(lines, "write "+f.Path)
	}
	lines = append(lines, describeSteps(rt.Install, state)...)
	if o := rt.Ownership; o != nil {
		lines = append(lines, fmt.Sprintf("chown -R %s %s", o.User, strings.Join(o.Paths, " ")))
	}
	if rt.User != "" {
		lines = append(lines, "user "+rt.User)
	}
	for _, port := range rt.Expose {
		lines = append(lines, fmt.Sprintf("expose %d/tcp", port))
	}
	if h := rt.Healthcheck; h != nil {
		lines = append(lines, fmt.Sprintf("healthcheck %s (interval %s, timeout %s, start %s, retries %d)",
			strings.Join(healthTest(h.Test), " "), h.Interval.Std(), h.Timeout.Std(), h.StartPeriod.Std(), h.Retries))
	}
	if len(rt.Entrypoint) > 0 {
		lines = append(lines, "entrypoint "+strings.Join(rt.Entrypoint, " "))
	}
	if len(rt.Cmd) > 0 {
		lines = append(lines, "cmd "+strings.Join(rt.Cmd, " "))
	}
	return append(lines, "commit")
}

// Renders the operations of a section, applying modifiers as a run would.
func describeSteps(steps []Step, state *stepState) []string {
	var lines []string
	for _, step := range steps {
		if !step.IsOperation() {
			state.apply(step)
			continue
		}
		resolved := state.resolve(step)
		line := "run " + strings.Join(resolved.argv(step), " ")
		if resolved.user != "" {
			line += " (as " + resolved.user + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

func describePublish(p PublishConfig) string {
	policy := p.Policy
	if policy == "" {
		policy = PolicyFailFast
	}
	concurrency := max(p.Concurrency, 1)
	return fmt.Sprintf("%s, concurrency %d", policy, concurrency)
}

func filters(include, exclude []string) string {
	var parts []string
	if len(include) > 0 {
		parts = append(parts, "include "+strings.Join(include, ", "))
	}
	if len(exclude) > 0 {
		parts = append(parts, "exclude "+strings.Join(exclude, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "; ") + ")"
}
