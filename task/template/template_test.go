package template

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestSubstituteBsubExample(t *testing.T) {
	got := Substitute(
		"bsub -n ~{cpu} -R mem=~{memory_mb} ~{script}",
		map[string]string{"cpu": "1", "memory_mb": "4096", "script": "./run.sh"},
	)
	assert.Equal(t, "bsub -n 1 -R mem=4096 ./run.sh", got)
}

func TestSubstituteNoBindings(t *testing.T) {
	assert.Equal(t, "no placeholders here", Substitute("no placeholders here", nil))
}

// genPlainValue generates strings that never contain a `~{` sequence, so
// they cannot be mistaken for a further placeholder during substitution.
func genPlainValue() gopter.Gen {
	return gen.AlphaString().SuchThat(func(s string) bool {
		return !strings.Contains(s, "~{")
	})
}

// TestSubstituteIdempotent validates invariant 5: re-substituting the result
// of a substitution with the same bindings is a no-op, provided none of the
// bound values themselves contain a `~{...}` sequence.
func TestSubstituteIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("substitute is idempotent over placeholder-free values", prop.ForAll(
		func(prefix, suffix, value string) bool {
			s := prefix + "~{key}" + suffix
			bindings := map[string]string{"key": value}

			once := Substitute(s, bindings)
			twice := Substitute(once, bindings)
			return once == twice
		},
		genPlainValue(),
		genPlainValue(),
		genPlainValue(),
	))

	properties.TestingRun(t)
}

// TestSubstituteOrderIndependent validates invariant 6: for disjoint keys,
// the binding map's iteration order never affects the substituted result.
func TestSubstituteOrderIndependent(t *testing.T) {
	template := "~{a}-~{b}-~{c}"
	bindings := map[string]string{"a": "1", "b": "2", "c": "3"}

	want := Substitute(template, bindings)
	for i := 0; i < 20; i++ {
		got := Substitute(template, bindings)
		assert.Equal(t, want, got)
	}
}
