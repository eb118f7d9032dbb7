// Package contracts defines the governance-consensus data model shared by
// every lattice component: directives, node votes, consensus rounds, veto
// decisions, session lifecycle states and audit entries.
//
// Values in this package are plain data. They are created once by the
// component that owns them and never mutated after being handed off.
package contracts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// MaxDirectiveBytes bounds the normalized directive text.
const MaxDirectiveBytes = 16 * 1024

// Directive is the unit of work submitted for orchestration.
// Immutable once accepted into a session.
type Directive struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	DomainTag   string    `json:"domain_tag,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewDirective validates and normalizes caller input into a Directive.
// Text is trimmed and NFC-normalized so that visually identical submissions
// reach the nodes byte-identical.
func NewDirective(text, domainTag string, now time.Time) (Directive, error) {
	normalized := strings.TrimSpace(norm.NFC.String(text))
	if normalized == "" {
		return Directive{}, &ValidationError{Field: "text", Reason: "directive text cannot be empty"}
	}
	if len(normalized) > MaxDirectiveBytes {
		return Directive{}, &ValidationError{Field: "text", Reason: "directive text exceeds 16KiB"}
	}

	return Directive{
		ID:          uuid.New().String(),
		Text:        normalized,
		DomainTag:   strings.TrimSpace(norm.NFC.String(domainTag)),
		SubmittedAt: now.UTC(),
	}, nil
}
