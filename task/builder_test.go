package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderMissingExecutions(t *testing.T) {
	_, err := NewBuilder().Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissing))
	assert.Contains(t, err.Error(), "executions")
}

func TestBuilderScalarOnce(t *testing.T) {
	b := NewBuilder()
	b, err := b.Name("first")
	require.NoError(t, err)

	_, err = b.Name("second")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMultiple))
	assert.Contains(t, err.Error(), "name")
}

func TestBuilderAccumulates(t *testing.T) {
	b := NewBuilder()
	b, err := b.Name("greeting")
	require.NoError(t, err)

	b, err = b.ExtendExecutions(
		Execution{Image: "ubuntu", Args: []string{"echo", "hi"}},
	)
	require.NoError(t, err)

	b, err = b.ExtendExecutions(
		Execution{Image: "ubuntu", Args: []string{"echo", "bye"}},
	)
	require.NoError(t, err)

	tk, err := b.Build()
	require.NoError(t, err)

	name, ok := tk.Name()
	assert.True(t, ok)
	assert.Equal(t, "greeting", name)
	assert.Len(t, tk.Executions(), 2)
}

func TestBuilderCloneIsIndependent(t *testing.T) {
	b := NewBuilder()
	b, err := b.ExtendExecutions(Execution{Image: "ubuntu", Args: []string{"true"}})
	require.NoError(t, err)

	tk, err := b.Build()
	require.NoError(t, err)

	other := tk.Clone()

	// Mutating the clone's slice must not affect the original.
	execs := other.Executions()
	execs[0].Image = "mutated"
	assert.Equal(t, "ubuntu", tk.Executions()[0].Image)
}
