package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/lattice/pkg/consensus"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/rules"
)

var (
	passed = consensus.Result{Outcome: contracts.OutcomePassed, ApproveCount: 7}
	failed = consensus.Result{Outcome: contracts.OutcomeFailed, ApproveCount: 2, AbstainCount: 5}
)

func session(text, tag string) contracts.SessionRecord {
	return contracts.SessionRecord{
		SessionID: "s-1",
		Directive: contracts.Directive{ID: "d-1", Text: text, DomainTag: tag},
	}
}

func TestValidate_Precedence(t *testing.T) {
	v := NewValidator(contracts.DefaultConstraints())
	ctx := context.Background()

	cases := []struct {
		name      string
		elapsed   int64
		tally     consensus.Result
		audit     bool
		wantVeto  bool
		wantCause contracts.VetoReason
	}{
		{"all clear", 150, passed, true, false, ""},
		{"over budget with full approval", 2100, passed, true, true, contracts.VetoResponseTimeViolation},
		{"exactly at budget", 2000, passed, true, true, contracts.VetoResponseTimeViolation},
		{"timing masks quorum", 2100, failed, false, true, contracts.VetoResponseTimeViolation},
		{"quorum not met", 1800, failed, true, true, contracts.VetoQuorumNotMet},
		{"quorum masks audit", 100, failed, false, true, contracts.VetoQuorumNotMet},
		{"audit unavailable", 100, passed, false, true, contracts.VetoAuditTrailUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := v.Validate(ctx, session("deploy", ""), tc.elapsed, tc.tally, tc.audit)
			assert.Equal(t, tc.wantVeto, d.Vetoed)
			assert.Equal(t, tc.wantCause, d.Reason)
			assert.Equal(t, "s-1", d.SessionID)
			assert.Equal(t, "2000", d.Details["max_response_time_ms"])
		})
	}
}

func TestValidate_AuditNotRequired(t *testing.T) {
	c := contracts.DefaultConstraints()
	c.AuditRequired = false
	v := NewValidator(c)

	d := v.Validate(context.Background(), session("deploy", ""), 10, passed, false)
	assert.False(t, d.Vetoed)
}

func TestValidate_ComplianceChecks(t *testing.T) {
	env, err := rules.NewEnv()
	require.NoError(t, err)

	tagged, err := NewComplianceCheck(env, "tagged", `directive.domain_tag != ""`)
	require.NoError(t, err)
	noBypass, err := NewComplianceCheck(env, "no-bypass", `!directive.text.contains("bypass")`)
	require.NoError(t, err)

	v := NewValidator(contracts.DefaultConstraints(), tagged, noBypass)
	ctx := context.Background()

	d := v.Validate(ctx, session("grow", "retail"), 10, passed, true)
	assert.False(t, d.Vetoed)

	d = v.Validate(ctx, session("grow", ""), 10, passed, true)
	assert.True(t, d.Vetoed)
	assert.Equal(t, contracts.VetoComplianceViolation, d.Reason)
	assert.Equal(t, "tagged", d.Details["compliance_check"])

	d = v.Validate(ctx, session("bypass review", "ops"), 10, passed, true)
	assert.Equal(t, contracts.VetoComplianceViolation, d.Reason)
	assert.Equal(t, "no-bypass", d.Details["compliance_check"])

	// Compliance only runs after the fixed checks pass.
	d = v.Validate(ctx, session("grow", ""), 10, failed, true)
	assert.Equal(t, contracts.VetoQuorumNotMet, d.Reason)
}

func TestNewComplianceCheck_Invalid(t *testing.T) {
	env, err := rules.NewEnv()
	require.NoError(t, err)
	_, err = NewComplianceCheck(env, "broken", `directive.text ==`)
	assert.Error(t, err)
}
