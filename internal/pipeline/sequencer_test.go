package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lineci/lineci/internal/descriptor"
	"github.com/lineci/lineci/internal/store"
)

// fakeRunner records each executed step together with the environment it
// saw, and fails the step whose label matches failOn.
type fakeRunner struct {
	executed []descriptor.Step
	environs [][]string
	failOn   string
	failCode int
	spawnErr error
}

func (r *fakeRunner) RunStep(
	step descriptor.Step,
	environ []string,
	output chan<- string,
) (int, error) {
	r.executed = append(r.executed, step)
	r.environs = append(r.environs, environ)
	if step.Label() == r.failOn {
		if r.spawnErr != nil {
			return 0, r.spawnErr
		}
		return r.failCode, nil
	}
	return 0, nil
}

func (r *fakeRunner) ReadFile(path string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRunner) Close() error { return nil }

func drain(output chan string) func() []string {
	lines := make([]string, 0)
	done := make(chan struct{})
	go func() {
		for line := range output {
			lines = append(lines, line)
		}
		close(done)
	}()
	return func() []string {
		close(output)
		<-done
		return lines
	}
}

func step(name, command string) descriptor.Step {
	return descriptor.Step{Name: name, Command: command}
}

func parseDescriptor(t *testing.T, data string) *descriptor.Descriptor {
	t.Helper()
	d, err := descriptor.Parse([]byte(data))
	assert.NoError(t, err)
	return d
}

func TestSequencer_Run(t *testing.T) {
	t.Run("success - all steps pass in order", func(t *testing.T) {
		// arrange
		d := &descriptor.Descriptor{
			Install: []descriptor.Step{step("a", "true"), step("b", "true")},
			Script:  &descriptor.Step{Name: "test", Command: "make"},
		}
		runner := &fakeRunner{}
		output := make(chan string, 100)
		collect := drain(output)

		// act
		result := NewSequencer(runner, output).Run(d, "main")
		lines := collect()

		// assert
		assert.Equal(t, store.StatusPassed, result.Status)
		assert.Zero(t, result.FailedStepIndex)
		assert.Len(t, runner.executed, 3)
		assert.Equal(t, "a", runner.executed[0].Name)
		assert.Equal(t, "b", runner.executed[1].Name)
		assert.Equal(t, "test", runner.executed[2].Name)
		assert.Contains(t, lines, passBanner)
	})
	t.Run("failure - failing install step aborts the rest", func(t *testing.T) {
		// arrange
		d := &descriptor.Descriptor{
			Install: []descriptor.Step{
				step("a", "true"),
				step("b", "false"),
				step("c", "true"),
			},
			Script: &descriptor.Step{Name: "test", Command: "make"},
		}
		runner := &fakeRunner{failOn: "b", failCode: 2}
		output := make(chan string, 100)
		collect := drain(output)

		// act
		result := NewSequencer(runner, output).Run(d, "main")
		lines := collect()

		// assert
		assert.Equal(t, store.StatusFailed, result.Status)
		assert.Equal(t, 2, result.FailedStepIndex)
		assert.Equal(t, "b", result.FailedStep)
		assert.Equal(t, 2, result.ExitCode)
		assert.Len(t, runner.executed, 2)
		assert.Contains(t, lines, failBanner)
	})
	t.Run("failure - spawn error is an ordinary failure", func(t *testing.T) {
		// arrange
		d := &descriptor.Descriptor{
			Script: &descriptor.Step{Name: "test", Command: "make"},
		}
		runner := &fakeRunner{failOn: "test", spawnErr: errors.New("command not found")}
		output := make(chan string, 100)
		collect := drain(output)

		// act
		result := NewSequencer(runner, output).Run(d, "main")
		collect()

		// assert
		assert.Equal(t, store.StatusFailed, result.Status)
		assert.Equal(t, 1, result.FailedStepIndex)
		assert.Equal(t, 1, result.ExitCode)
	})
	t.Run("failure - failing script reports index after install steps", func(t *testing.T) {
		// arrange
		d := &descriptor.Descriptor{
			Install: []descriptor.Step{step("a", "true"), step("b", "true")},
			Script:  &descriptor.Step{Name: "test", Command: "make"},
		}
		runner := &fakeRunner{failOn: "test", failCode: 1}
		output := make(chan string, 100)
		collect := drain(output)

		// act
		result := NewSequencer(runner, output).Run(d, "main")
		collect()

		// assert
		assert.Equal(t, store.StatusFailed, result.Status)
		assert.Equal(t, 3, result.FailedStepIndex)
		assert.Equal(t, "test", result.FailedStep)
	})
	t.Run("success - run skipped for disallowed branch", func(t *testing.T) {
		// arrange
		d := &descriptor.Descriptor{
			Branches: descriptor.Branches{Only: []string{"main"}},
			Install:  []descriptor.Step{step("a", "true")},
			Script:   &descriptor.Step{Name: "test", Command: "make"},
		}
		runner := &fakeRunner{}
		output := make(chan string, 100)
		collect := drain(output)

		// act
		result := NewSequencer(runner, output).Run(d, "dev")
		collect()

		// assert
		assert.Equal(t, store.StatusSkipped, result.Status)
		assert.Empty(t, runner.executed)
	})
}

func TestSequencer_EnvironmentPropagation(t *testing.T) {
	t.Run("success - exports visible to every later step only", func(t *testing.T) {
		// arrange
		d := parseDescriptor(t, `
install:
  - name: first
    command: "true"
    exports:
      TOOLCHAIN_HOME: /opt/toolchain
  - name: second
    command: "$TOOLCHAIN_HOME/bin/setup"
    exports:
      PATH: $TOOLCHAIN_HOME/bin:$PATH
script:
  name: test
  command: make
`)
		runner := &fakeRunner{}
		output := make(chan string, 100)
		collect := drain(output)

		// act
		result := NewSequencer(runner, output).Run(d, "main")
		collect()

		// assert
		assert.Equal(t, store.StatusPassed, result.Status)
		// first step ran before any exports existed
		assert.Empty(t, runner.environs[0])
		// second step sees the first step's export, resolved in its command
		assert.Equal(t, []string{"TOOLCHAIN_HOME=/opt/toolchain"}, runner.environs[1])
		assert.Equal(t, "/opt/toolchain/bin/setup", runner.executed[1].Command)
		// script sees both, with PATH expanded against the prior context
		assert.Equal(
			t,
			[]string{"TOOLCHAIN_HOME=/opt/toolchain", "PATH=/opt/toolchain/bin:"},
			runner.environs[2],
		)
	})
	t.Run("success - export values expand against pre-step context", func(t *testing.T) {
		// arrange
		d := parseDescriptor(t, `
install:
  - name: first
    command: "true"
    exports:
      PATH: /usr/bin
  - name: second
    command: "true"
    exports:
      PATH: /opt/bin:$PATH
      LLVM_CONFIG: $PATH/llvm-config
script:
  name: test
  command: make
`)
		runner := &fakeRunner{}
		output := make(chan string, 100)
		collect := drain(output)

		// act
		result := NewSequencer(runner, output).Run(d, "main")
		collect()

		// assert
		assert.Equal(t, store.StatusPassed, result.Status)
		// both exports of the second step read PATH as it stood before the
		// step, not each other's new values
		assert.Contains(t, runner.environs[2], "PATH=/opt/bin:/usr/bin")
		assert.Contains(t, runner.environs[2], "LLVM_CONFIG=/usr/bin/llvm-config")
	})
}
