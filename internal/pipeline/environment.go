package pipeline

import "os"

// Environment is the variable context of a single run. It is created empty,
// owned by the sequencer, mutated only through step exports and discarded
// when the run ends. Assignments are visible to every later read in the
// same run and never retroactively.
type Environment struct {
	keys   []string
	values map[string]string
}

func NewEnvironment() *Environment {
	return &Environment{values: make(map[string]string)}
}

// Set appends a binding, or overwrites the value in place when the key is
// already bound.
func (e *Environment) Set(key, value string) {
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

func (e *Environment) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Expand substitutes $VAR and ${VAR} references against the current
// bindings. Unset variables expand to the empty string, so prefixing an
// unset PATH-like variable still yields a usable value.
func (e *Environment) Expand(s string) string {
	return os.Expand(s, func(key string) string {
		return e.values[key]
	})
}

// Environ returns the bindings as KEY=VALUE pairs in insertion order,
// suitable for appending after a base process environment.
func (e *Environment) Environ() []string {
	environ := make([]string, len(e.keys))
	for i, k := range e.keys {
		environ[i] = k + "=" + e.values[k]
	}
	return environ
}

func (e *Environment) Len() int {
	return len(e.keys)
}
