package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSuccessPredicate(t *testing.T) {
	p, err := CompileSuccessPredicate("")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = CompileSuccessPredicate("url.startsWith(")
	assert.ErrorContains(t, err, "invalid success predicate")

	_, err = CompileSuccessPredicate("steps + 1")
	assert.ErrorContains(t, err, "must evaluate to bool")

	_, err = CompileSuccessPredicate("cookies.size() > 0")
	assert.Error(t, err, "undeclared variables are rejected at compile time")
}

func TestSuccessPredicateEvaluate(t *testing.T) {
	p, err := CompileSuccessPredicate(`url.contains("/faculty") && result != "" && steps <= 10`)
	require.NoError(t, err)
	assert.Equal(t, `url.contains("/faculty") && result != "" && steps <= 10`, p.String())

	tests := []struct {
		name string
		in   PredicateInput
		want bool
	}{
		{"holds", PredicateInput{URL: "https://x.edu/faculty/jane", Result: "Jane Doe", Steps: 4}, true},
		{"wrong page", PredicateInput{URL: "https://x.edu/", Result: "Jane Doe", Steps: 4}, false},
		{"empty result", PredicateInput{URL: "https://x.edu/faculty", Steps: 4}, false},
		{"too many steps", PredicateInput{URL: "https://x.edu/faculty", Result: "x", Steps: 11}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Evaluate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNilPredicateAcceptsEverything(t *testing.T) {
	var p *SuccessPredicate
	ok, err := p.Evaluate(PredicateInput{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, p.String())
}

func TestSuccessPredicateRuntimeError(t *testing.T) {
	p, err := CompileSuccessPredicate(`int(result) > 3`)
	require.NoError(t, err)

	_, err = p.Evaluate(PredicateInput{Result: "not a number"})
	assert.ErrorContains(t, err, "evaluating success predicate")
}
