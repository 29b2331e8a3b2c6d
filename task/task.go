// Package task defines the immutable data model dispatched by the engine:
// a Task is a non-empty sequence of Executions sharing Inputs, Outputs,
// volumes, and an optional Resources request.
package task

// Task is an immutable, cloneable aggregate submitted to the engine. It is
// constructed by a Builder; once built its fields are never mutated.
type Task struct {
	name        string
	hasName     bool
	description string
	hasDesc     bool
	inputs      []Input
	outputs     []Output
	resources   *Resources
	executions  []Execution
	volumes     []string
}

// Name returns the task's human name and whether one was set.
func (t Task) Name() (string, bool) { return t.name, t.hasName }

// Description returns the task's human description and whether one was set.
func (t Task) Description() (string, bool) { return t.description, t.hasDesc }

// Inputs returns the task's ordered inputs, or nil if none were added.
func (t Task) Inputs() []Input { return t.inputs }

// Outputs returns the task's ordered output descriptors, or nil if none were added.
func (t Task) Outputs() []Output { return t.outputs }

// Resources returns the task's resource request, or nil if none was set.
func (t Task) Resources() *Resources { return t.resources }

// Executions returns the task's ordered, non-empty executions.
func (t Task) Executions() []Execution { return t.executions }

// Volumes returns the container-internal paths shared across all executions
// of the task, or nil if none were added.
func (t Task) Volumes() []string { return t.volumes }

// Clone returns a copy of t with its own inputs, outputs, executions and
// volumes slices and its own Resources value, so the same task may be
// submitted many times. The copy is one level deep: each Execution's Args and
// Env, and the pointer fields and Zones of Resources, are shared with t.
func (t Task) Clone() Task {
	c := t
	c.inputs = append([]Input(nil), t.inputs...)
	c.outputs = append([]Output(nil), t.outputs...)
	c.executions = append([]Execution(nil), t.executions...)
	c.volumes = append([]string(nil), t.volumes...)
	if t.resources != nil {
		r := *t.resources
		c.resources = &r
	}
	return c
}

// Execution is one containerized command invocation within a Task.
type Execution struct {
	Image   string
	Args    []string
	Workdir string
	Stdin   string
	Stdout  string
	Stderr  string
	Env     []EnvVar
}

// EnvVar is one environment variable binding. A slice of EnvVar (rather than
// a map) preserves the insertion order the spec requires executions to
// iterate in.
type EnvVar struct {
	Name  string
	Value string
}

// InputType distinguishes a staged Input as a file or a directory.
type InputType int

const (
	// File indicates the Input's contents are a single file.
	File InputType = iota
	// Directory indicates the Input's contents are a directory tree.
	Directory
)

// Input is a file or directory to be staged inside the execution environment.
type Input struct {
	Name        string
	Description string
	Contents    string
	Path        string
	Type        InputType
}

// OutputType distinguishes a declared Output as a file or a directory.
type OutputType int

const (
	// OutputFile indicates the Output names a single file.
	OutputFile OutputType = iota
	// OutputDirectory indicates the Output names a directory tree.
	OutputDirectory
)

// Output is a currently-informational descriptor of a path an execution is
// expected to produce.
type Output struct {
	Name        string
	Description string
	Path        string
	Type        OutputType
}

// Resources is an optional compute request. Any field may be absent; absence
// means "no request, use the backend's default."
type Resources struct {
	CPUCores    *int64
	Preemptible *bool
	RAMGB       *float64
	DiskGB      *float64
	Zones       []string
}
