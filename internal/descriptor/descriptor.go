// Package descriptor defines the declarative pipeline descriptor: which
// branches run, the ordered install steps, the test script and the
// notification policy. A descriptor is parsed once and never mutated by a
// run.
package descriptor

import (
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-yaml"
)

type Trigger string

const (
	TriggerAlways Trigger = "always"
	TriggerChange Trigger = "change"
	TriggerNever  Trigger = "never"
)

type CompareMode string

const (
	ComparePreviousRun  CompareMode = "previous_run"
	CompareLastNotified CompareMode = "last_notified"
)

// Step is a single external command. Exit status is its only pass/fail
// signal; exports are applied to the run's environment context after the
// step succeeds, with values expanded against the context as it stood
// when the step ran.
type Step struct {
	Name      string            `yaml:"name,omitempty"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args,omitempty"`
	Workdir   string            `yaml:"workdir,omitempty"`
	Exports   map[string]string `yaml:"exports,omitempty"`
	Artifacts string            `yaml:"artifacts,omitempty"`
}

func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Command
}

type Branches struct {
	Only []string `yaml:"only,omitempty"`
}

type Email struct {
	Recipients []string `yaml:"recipients,omitempty"`
}

type Notifications struct {
	Email     Email       `yaml:"email,omitempty"`
	Flowdock  string      `yaml:"flowdock,omitempty"`
	Webhooks  []string    `yaml:"webhooks,omitempty"`
	OnSuccess Trigger     `yaml:"on_success,omitempty"`
	OnFailure Trigger     `yaml:"on_failure,omitempty"`
	CompareTo CompareMode `yaml:"compare_to,omitempty"`
}

type Descriptor struct {
	Language      string        `yaml:"language,omitempty"`
	Branches      Branches      `yaml:"branches,omitempty"`
	Install       []Step        `yaml:"install,omitempty"`
	Script        *Step         `yaml:"script"`
	Schedule      string        `yaml:"schedule,omitempty"`
	Notifications Notifications `yaml:"notifications,omitempty"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return "config error: " + e.Message
}

func newConfigError(format string, args ...any) ConfigError {
	return ConfigError{Message: fmt.Sprintf(format, args...)}
}

// Parse unmarshals and validates a descriptor. Defaults mirror the usual
// hosted-CI conventions: notify on every failure, notify on success only
// when the status changed, compare against the immediately prior run.
func Parse(data []byte) (*Descriptor, error) {
	d := new(Descriptor)
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, newConfigError("invalid descriptor yaml: %v", err)
	}

	if d.Notifications.OnSuccess == "" {
		d.Notifications.OnSuccess = TriggerChange
	}
	if d.Notifications.OnFailure == "" {
		d.Notifications.OnFailure = TriggerAlways
	}
	if d.Notifications.CompareTo == "" {
		d.Notifications.CompareTo = ComparePreviousRun
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newConfigError("unable to read descriptor %s: %v", path, err)
	}
	return Parse(data)
}

func (d *Descriptor) Validate() error {
	if d.Script == nil {
		return newConfigError("descriptor has no script")
	}
	if d.Script.Command == "" {
		return newConfigError("script step has no command")
	}
	for i, s := range d.Install {
		if s.Command == "" {
			return newConfigError("install step %d (%s) has no command", i+1, s.Label())
		}
	}
	for _, t := range []Trigger{d.Notifications.OnSuccess, d.Notifications.OnFailure} {
		switch t {
		case TriggerAlways, TriggerChange, TriggerNever:
		default:
			return newConfigError("invalid notification trigger %q", t)
		}
	}
	switch d.Notifications.CompareTo {
	case ComparePreviousRun, CompareLastNotified:
	default:
		return newConfigError("invalid notification compare mode %q", d.Notifications.CompareTo)
	}
	return nil
}

// BranchAllowed reports whether a run for the given branch may proceed.
// An empty allow-list means no restriction.
func (d *Descriptor) BranchAllowed(branch string) bool {
	if len(d.Branches.Only) == 0 {
		return true
	}
	return slices.Contains(d.Branches.Only, branch)
}

func (d *Descriptor) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
