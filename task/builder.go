package task

import (
	"errors"
	"fmt"
)

// ErrMissing is returned, wrapped with the offending field name, when Build
// is called without a required field set.
var ErrMissing = errors.New("task: missing required builder field")

// ErrMultiple is returned, wrapped with the offending field name, when a
// scalar builder setter is called more than once for the same field.
var ErrMultiple = errors.New("task: builder field set more than once")

// Builder accumulates Task fields. Scalar setters (Name, Description,
// SetResources) fail, wrapping ErrMultiple, if the field was already set.
// Plural setters (ExtendInputs, ExtendOutputs, ExtendExecutions,
// ExtendVolumes) append; repeated calls are additive. Build fails, wrapping
// ErrMissing, if no execution was ever added.
type Builder struct {
	t Task
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Name sets the task's name.
func (b *Builder) Name(name string) (*Builder, error) {
	if b.t.hasName {
		return b, fmt.Errorf("%w: %s", ErrMultiple, "name")
	}
	b.t.name = name
	b.t.hasName = true
	return b, nil
}

// Description sets the task's description.
func (b *Builder) Description(description string) (*Builder, error) {
	if b.t.hasDesc {
		return b, fmt.Errorf("%w: %s", ErrMultiple, "description")
	}
	b.t.description = description
	b.t.hasDesc = true
	return b, nil
}

// ExtendInputs appends inputs to the task's input sequence.
func (b *Builder) ExtendInputs(inputs ...Input) (*Builder, error) {
	b.t.inputs = append(b.t.inputs, inputs...)
	return b, nil
}

// ExtendOutputs appends outputs to the task's output sequence.
func (b *Builder) ExtendOutputs(outputs ...Output) (*Builder, error) {
	b.t.outputs = append(b.t.outputs, outputs...)
	return b, nil
}

// SetResources sets the task's resource request.
func (b *Builder) SetResources(r Resources) (*Builder, error) {
	if b.t.resources != nil {
		return b, fmt.Errorf("%w: %s", ErrMultiple, "resources")
	}
	b.t.resources = &r
	return b, nil
}

// ExtendExecutions appends executions to the task's execution sequence.
func (b *Builder) ExtendExecutions(executions ...Execution) (*Builder, error) {
	b.t.executions = append(b.t.executions, executions...)
	return b, nil
}

// ExtendVolumes appends container-internal paths to the task's shared volume
// sequence.
func (b *Builder) ExtendVolumes(volumes ...string) (*Builder, error) {
	b.t.volumes = append(b.t.volumes, volumes...)
	return b, nil
}

// Build returns the accumulated Task. It never validates inter-field
// consistency beyond requiring at least one execution.
func (b *Builder) Build() (Task, error) {
	if len(b.t.executions) == 0 {
		return Task{}, fmt.Errorf("%w: %s", ErrMissing, "executions")
	}
	return b.t.Clone(), nil
}
