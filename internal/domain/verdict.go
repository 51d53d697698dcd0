package domain

import (
	"strings"
)

// Reply prefixes the judging model is instructed to use.
const (
	PassToken     = "PASS"
	FailToken     = "FAIL"
	FailDelimiter = "FAIL: "
)

// Outcome classifies a model reply.
type Outcome int

const (
	// OutcomeFormatError means the reply matched neither prefix.
	OutcomeFormatError Outcome = iota
	// OutcomePass means the reply began with PASS.
	OutcomePass
	// OutcomeFail means the reply began with FAIL.
	OutcomeFail
)

// String returns a lowercase label suitable for metrics and logs.
func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	default:
		return "format_error"
	}
}

// Verdict is the parsed form of a model reply.
type Verdict struct {
	// Outcome is the classification of the reply.
	Outcome Outcome

	// Reason is the model-supplied explanation for a FAIL outcome.
	Reason string

	// Raw is the unmodified reply text.
	Raw string
}

// ParseVerdict applies the strict prefix rule to a model reply. A FAIL
// reason is everything after the first "FAIL: " delimiter; a bare "FAIL"
// prefix without the delimiter yields the remaining text trimmed.
func ParseVerdict(reply string) Verdict {
	switch {
	case strings.HasPrefix(reply, PassToken):
		return Verdict{Outcome: OutcomePass, Raw: reply}
	case strings.HasPrefix(reply, FailToken):
		reason := strings.TrimSpace(strings.TrimPrefix(reply, FailToken))
		if _, after, found := strings.Cut(reply, FailDelimiter); found {
			reason = after
		}
		return Verdict{Outcome: OutcomeFail, Reason: reason, Raw: reply}
	default:
		return Verdict{Outcome: OutcomeFormatError, Raw: reply}
	}
}

// Err converts the verdict into the matching error, or nil on PASS.
func (v Verdict) Err() error {
	switch v.Outcome {
	case OutcomePass:
		return nil
	case OutcomeFail:
		return NewBehavioralAssertionError("Behavioral assertion failed", v.Reason, nil)
	default:
		return NewFormatError(v.Raw)
	}
}
