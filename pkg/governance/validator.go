// Package governance holds the veto authority over consensus outcomes.
//
// Checks run in a fixed order and the first failing check decides the veto
// reason: response time, then quorum, then audit availability, then any
// configured compliance checks.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Mindburn-Labs/lattice/pkg/consensus"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/rules"
)

// ComplianceCheck is a named predicate every directive must satisfy.
type ComplianceCheck struct {
	Name string
	pred *rules.Predicate
}

// NewComplianceCheck compiles expr in env.
func NewComplianceCheck(env *rules.Env, name, expr string) (ComplianceCheck, error) {
	p, err := env.Compile(expr)
	if err != nil {
		return ComplianceCheck{}, fmt.Errorf("compliance check %q: %w", name, err)
	}
	return ComplianceCheck{Name: name, pred: p}, nil
}

// Validator is immutable and shared by all sessions.
type Validator struct {
	constraints contracts.GovernanceConstraints
	checks      []ComplianceCheck
	logger      *slog.Logger
}

// NewValidator creates a validator over read-only constraints.
func NewValidator(constraints contracts.GovernanceConstraints, checks ...ComplianceCheck) *Validator {
	cp := make([]ComplianceCheck, len(checks))
	copy(cp, checks)
	return &Validator{
		constraints: constraints,
		checks:      cp,
		logger:      slog.Default().With("component", "governance"),
	}
}

// Constraints returns the configured constraints.
func (v *Validator) Constraints() contracts.GovernanceConstraints { return v.constraints }

// Validate produces the single veto decision of a session. elapsedMs is the
// snapshot taken when the fan-out barrier closed.
func (v *Validator) Validate(ctx context.Context, session contracts.SessionRecord, elapsedMs int64, tally consensus.Result, auditAvailable bool) contracts.VetoDecision {
	details := map[string]string{
		"elapsed_ms":           strconv.FormatInt(elapsedMs, 10),
		"max_response_time_ms": strconv.FormatInt(v.constraints.MaxResponseTimeMs, 10),
		"approve_count":        strconv.Itoa(tally.ApproveCount),
		"required_quorum":      strconv.Itoa(v.constraints.RequiredQuorum),
		"audit_available":      strconv.FormatBool(auditAvailable),
	}
	decision := contracts.VetoDecision{SessionID: session.SessionID, Details: details}

	veto := func(reason contracts.VetoReason) contracts.VetoDecision {
		decision.Vetoed = true
		decision.Reason = reason
		v.logger.InfoContext(ctx, "session vetoed",
			"session_id", session.SessionID,
			"reason", reason,
			"elapsed_ms", elapsedMs,
			"approve_count", tally.ApproveCount,
		)
		return decision
	}

	if elapsedMs >= v.constraints.MaxResponseTimeMs {
		return veto(contracts.VetoResponseTimeViolation)
	}
	if tally.Outcome != contracts.OutcomePassed {
		return veto(contracts.VetoQuorumNotMet)
	}
	if v.constraints.AuditRequired && !auditAvailable {
		return veto(contracts.VetoAuditTrailUnavailable)
	}

	for _, chk := range v.checks {
		ok, err := chk.pred.Eval(session.Directive)
		if err != nil {
			// Evaluation failures are treated as violations.
			details["compliance_check"] = chk.Name
			details["compliance_error"] = err.Error()
			return veto(contracts.VetoComplianceViolation)
		}
		if !ok {
			details["compliance_check"] = chk.Name
			return veto(contracts.VetoComplianceViolation)
		}
	}

	return decision
}
