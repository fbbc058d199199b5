package pipeline

import (
	"fmt"
	"sort"

	"github.com/lineci/lineci/internal/descriptor"
	"github.com/lineci/lineci/internal/store"
)

// RunResult is the single terminal record of a run. FailedStepIndex is
// 1-based across the install steps followed by the script; it is zero
// unless the run failed.
type RunResult struct {
	Status          store.RunStatus
	FailedStepIndex int
	FailedStep      string
	ExitCode        int
}

// Sequencer drives one run: branch check, ordered install steps with
// fail-fast abort and forward-only environment propagation, then the
// script. Execution is strictly sequential; the environment has a single
// writer at any instant.
type Sequencer struct {
	runner CommandRunner
	output chan<- string
}

func NewSequencer(runner CommandRunner, output chan<- string) *Sequencer {
	return &Sequencer{runner: runner, output: output}
}

// Run executes the descriptor for the given branch and returns the run's
// terminal result. The environment context is created here and destroyed
// with the run; nothing persists between runs.
func (s *Sequencer) Run(d *descriptor.Descriptor, branch string) RunResult {
	if !d.BranchAllowed(branch) {
		s.output <- fmt.Sprintf("Branch '%s' is not in the allowed branches, skipping run.\n", branch)
		return RunResult{Status: store.StatusSkipped}
	}

	env := NewEnvironment()

	for i, step := range d.Install {
		s.output <- fmt.Sprintf("Executing install step %d/%d '%s'\n", i+1, len(d.Install), step.Label())
		if result, failed := s.runStep(step, i+1, env); failed {
			s.output <- failBanner
			return result
		}
	}

	script := *d.Script
	s.output <- fmt.Sprintf("Executing script '%s'\n", script.Label())
	if result, failed := s.runStep(script, len(d.Install)+1, env); failed {
		s.output <- failBanner
		return result
	}

	s.output <- passBanner
	return RunResult{Status: store.StatusPassed}
}

// runStep resolves the step against the current context, executes it and,
// on success, applies its exports. Spawn and transport errors are the
// same failure as a non-zero exit.
func (s *Sequencer) runStep(
	step descriptor.Step,
	index int,
	env *Environment,
) (RunResult, bool) {
	resolved := resolveStep(step, env)

	code, err := s.runner.RunStep(resolved, env.Environ(), s.output)
	if err != nil {
		s.output <- fmt.Sprintf("step '%s' could not run: %v\n", step.Label(), err)
		return RunResult{
			Status:          store.StatusFailed,
			FailedStepIndex: index,
			FailedStep:      step.Label(),
			ExitCode:        1,
		}, true
	}
	if code != 0 {
		s.output <- fmt.Sprintf("step '%s' exited with code %d\n", step.Label(), code)
		return RunResult{
			Status:          store.StatusFailed,
			FailedStepIndex: index,
			FailedStep:      step.Label(),
			ExitCode:        code,
		}, true
	}

	applyExports(step, env)
	return RunResult{}, false
}

// resolveStep expands variable references in the step's command, arguments
// and working directory against the context as accumulated by the
// preceding steps.
func resolveStep(step descriptor.Step, env *Environment) descriptor.Step {
	resolved := step
	resolved.Command = env.Expand(step.Command)
	resolved.Workdir = env.Expand(step.Workdir)
	if len(step.Args) > 0 {
		resolved.Args = make([]string, len(step.Args))
		for i, arg := range step.Args {
			resolved.Args[i] = env.Expand(arg)
		}
	}
	return resolved
}

// applyExports writes the step's exported bindings. Values are expanded
// against the context as it stood when the step ran, so an export like
// PATH: "$HOME/bin:$PATH" reads the prior binding before overwriting it.
func applyExports(step descriptor.Step, env *Environment) {
	if len(step.Exports) == 0 {
		return
	}
	keys := make([]string, 0, len(step.Exports))
	for k := range step.Exports {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	expanded := make(map[string]string, len(keys))
	for _, k := range keys {
		expanded[k] = env.Expand(step.Exports[k])
	}
	for _, k := range keys {
		env.Set(k, expanded[k])
	}
}

const passBanner = `
=============================================
PASS || Executed pipeline steps successfully.
=============================================
`

const failBanner = `
=============================================
FAIL || Pipeline execution failed.
=============================================
`
