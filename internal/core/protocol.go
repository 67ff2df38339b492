package core

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ProtocolKind names the confirmation protocol variant.
type ProtocolKind string

const (
	ProtocolNone                   ProtocolKind = "none"
	ProtocolSinglePrompt           ProtocolKind = "single_prompt"
	ProtocolPromptWithConsequences ProtocolKind = "prompt_with_consequences"
	ProtocolMultiStep              ProtocolKind = "multi_step"
)

// Option labels. The affirmative option is always first.
const (
	OptionProceed     = "Proceed"
	OptionCancel      = "Cancel"
	OptionAcknowledge = "I understand the consequences"
	OptionYes         = "Yes, run it"
	OptionNo          = "No"
)

// Protocol is the confirmation requirement for a decision. Which fields are
// meaningful depends on Kind:
//
//	none                      nothing
//	single_prompt             Options
//	prompt_with_consequences  WarningText, Options
//	multi_step                WarningText, RequiredTypedValue, FinalOptions
type Protocol struct {
	Kind               ProtocolKind `json:"kind"`
	Options            []string     `json:"options,omitempty"`
	WarningText        string       `json:"warning_text,omitempty"`
	RequiredTypedValue string       `json:"required_typed_value,omitempty"`
	FinalOptions       []string     `json:"final_options,omitempty"`
}

// Steps returns how many confirmation steps the protocol has.
func (p Protocol) Steps() int {
	switch p.Kind {
	case ProtocolSinglePrompt, ProtocolPromptWithConsequences:
		return 1
	case ProtocolMultiStep:
		return 3
	}
	return 0
}

// rank orders protocol kinds by friction.
func (k ProtocolKind) rank() int {
	switch k {
	case ProtocolSinglePrompt:
		return 1
	case ProtocolPromptWithConsequences:
		return 2
	case ProtocolMultiStep:
		return 3
	}
	return 0
}

// ProtocolKindFor maps a final tier to its protocol kind.
func ProtocolKindFor(tier RiskTier) ProtocolKind {
	switch tier {
	case TierWrite:
		return ProtocolSinglePrompt
	case TierDestructive:
		return ProtocolPromptWithConsequences
	case TierForbidden:
		return ProtocolMultiStep
	}
	return ProtocolNone
}

// newProtocol builds the stateless protocol shape for a kind. Request
// specific text is filled in by buildProtocol.
func newProtocol(kind ProtocolKind) Protocol {
	switch kind {
	case ProtocolSinglePrompt, ProtocolPromptWithConsequences:
		return Protocol{Kind: kind, Options: []string{OptionProceed, OptionCancel}}
	case ProtocolMultiStep:
		return Protocol{
			Kind:         kind,
			Options:      []string{OptionAcknowledge, OptionCancel},
			FinalOptions: []string{OptionYes, OptionNo},
		}
	}
	return Protocol{Kind: ProtocolNone}
}

// buildProtocol fills the warning text and typed value for a request.
func buildProtocol(kind ProtocolKind, req OperationRequest, reasons []string, final RiskTier, sens Sensitivity) Protocol {
	p := newProtocol(kind)
	switch kind {
	case ProtocolPromptWithConsequences:
		p.WarningText = warningText(req, reasons, final, sens, false)
	case ProtocolMultiStep:
		p.WarningText = warningText(req, reasons, final, sens, true)
		p.RequiredTypedValue = TypedValue(req)
	}
	return p
}

func warningText(req OperationRequest, reasons []string, final RiskTier, sens Sensitivity, irreversible bool) string {
	var b strings.Builder
	target := req.DisplayTarget()
	if target == "" {
		target = "(default target)"
	}
	fmt.Fprintf(&b, "%s %s on %s target %s", strings.ToUpper(final.String()), req.Action(), strings.ToUpper(sens.String()), target)
	for _, r := range reasons {
		fmt.Fprintf(&b, "\n  - %s", r)
	}
	if sens == SensitivityUnknown {
		b.WriteString("\nThe target environment could not be identified; it is treated as worse than production.")
	}
	if irreversible {
		b.WriteString("\nThis may not be reversible.")
	}
	return b.String()
}

var dsnDBNameRe = regexp.MustCompile(`(?i)\b(?:dbname|database)\s*=\s*('[^']*'|"[^"]*"|\S+)`)

// TypedValue returns the value a human must type to confirm a multi-step
// operation. SQL uses the table the destructive statement names, then the
// database name; other tools use the target reference. The action is the
// fallback.
func TypedValue(req OperationRequest) string {
	if req.Tool() == ToolSQL {
		if t := destructiveTarget(req.RawPayload()); t != "" {
			return t
		}
		if db := databaseName(req.TargetRef()); db != "" {
			return db
		}
		return req.Action()
	}
	if t := req.DisplayTarget(); t != "" {
		return t
	}
	return req.Action()
}

func databaseName(ref string) string {
	if ref == "" {
		return ""
	}
	if strings.Contains(ref, "://") {
		if u, err := url.Parse(ref); err == nil {
			return strings.Trim(u.Path, "/")
		}
		return ""
	}
	if m := dsnDBNameRe.FindStringSubmatch(ref); m != nil {
		return strings.Trim(m[1], `'"`)
	}
	return ""
}
