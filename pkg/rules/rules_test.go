package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

func TestPredicate_Eval(t *testing.T) {
	env, err := NewEnv()
	require.NoError(t, err)

	d := contracts.Directive{ID: "d-1", Text: "expand retail footprint", DomainTag: "retail", SubmittedAt: time.Unix(1700000000, 0)}

	cases := []struct {
		expr string
		want bool
	}{
		{`directive.domain_tag == "retail"`, true},
		{`directive.text.contains("footprint")`, true},
		{`size(directive.text) > 100`, false},
		{`directive.submitted_at > 0`, true},
	}
	for _, tc := range cases {
		p, err := env.Compile(tc.expr)
		require.NoError(t, err, tc.expr)
		got, err := p.Eval(d)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
		assert.Equal(t, tc.expr, p.Expr())
	}
}

func TestCompile_Rejects(t *testing.T) {
	env, err := NewEnv()
	require.NoError(t, err)

	_, err = env.Compile(`directive.text +`)
	assert.Error(t, err)

	_, err = env.Compile(`size(directive.text)`)
	assert.Error(t, err, "non-bool expressions are rejected at compile time")
}
