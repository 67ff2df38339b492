// Package core implements risk classification, environment resolution,
// escalation policy and confirmation gating for operations against
// external systems.
package core

import (
	"fmt"
	"strings"
)

// RiskTier is an ordered risk category. Later stages may raise a tier but
// never lower it.
type RiskTier int

const (
	TierSafe RiskTier = iota
	TierWrite
	TierDestructive
	TierForbidden
)

var tierNames = [...]string{"safe", "write", "destructive", "forbidden"}

// AllTiers lists tiers from least to most risky.
func AllTiers() []RiskTier {
	return []RiskTier{TierSafe, TierWrite, TierDestructive, TierForbidden}
}

func (t RiskTier) String() string {
	if t < TierSafe || t > TierForbidden {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// Valid reports whether t is one of the four defined tiers.
func (t RiskTier) Valid() bool {
	return t >= TierSafe && t <= TierForbidden
}

// ParseRiskTier parses a tier name (case-insensitive).
func ParseRiskTier(s string) (RiskTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return TierSafe, nil
	case "write":
		return TierWrite, nil
	case "destructive":
		return TierDestructive, nil
	case "forbidden":
		return TierForbidden, nil
	default:
		return TierSafe, fmt.Errorf("invalid risk tier %q (must be safe, write, destructive, or forbidden)", s)
	}
}

func (t RiskTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *RiskTier) UnmarshalText(b []byte) error {
	parsed, err := ParseRiskTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MaxTier returns the most severe of the given tiers.
func MaxTier(first RiskTier, rest ...RiskTier) RiskTier {
	m := first
	for _, t := range rest {
		if t > m {
			m = t
		}
	}
	return m
}

// Sensitivity classifies how consequential the target environment is.
// SensitivityUnknown sorts above SensitivityProduction: a target we could
// not identify is treated as worse than production.
type Sensitivity int

const (
	SensitivityIsolated Sensitivity = iota
	SensitivityStaging
	SensitivityProduction
	SensitivityUnknown
)

var sensitivityNames = [...]string{"isolated", "staging", "production", "unknown"}

// AllSensitivities lists sensitivities from least to most consequential.
func AllSensitivities() []Sensitivity {
	return []Sensitivity{SensitivityIsolated, SensitivityStaging, SensitivityProduction, SensitivityUnknown}
}

func (s Sensitivity) String() string {
	if s < SensitivityIsolated || s > SensitivityUnknown {
		return fmt.Sprintf("sensitivity(%d)", int(s))
	}
	return sensitivityNames[s]
}

func (s Sensitivity) Valid() bool {
	return s >= SensitivityIsolated && s <= SensitivityUnknown
}

// ParseSensitivity parses a sensitivity name. "local" and "scratch" map to
// isolated, "sandbox" to staging, "prod" to production.
func ParseSensitivity(v string) (Sensitivity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "isolated", "local", "scratch":
		return SensitivityIsolated, nil
	case "staging", "sandbox":
		return SensitivityStaging, nil
	case "production", "prod":
		return SensitivityProduction, nil
	case "unknown":
		return SensitivityUnknown, nil
	default:
		return SensitivityUnknown, fmt.Errorf("invalid sensitivity %q (must be isolated, staging, production, or unknown)", v)
	}
}

func (s Sensitivity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Sensitivity) UnmarshalText(b []byte) error {
	parsed, err := ParseSensitivity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Tool identifies the family of external system an operation targets.
type Tool string

const (
	ToolVCSHost      Tool = "vcs_host"
	ToolGit          Tool = "git"
	ToolCRM          Tool = "crm"
	ToolDataPlatform Tool = "data_platform"
	ToolSQL          Tool = "sql"
)

// AllTools lists the supported tools in display order.
func AllTools() []Tool {
	return []Tool{ToolVCSHost, ToolGit, ToolCRM, ToolDataPlatform, ToolSQL}
}

// Valid reports whether t is a supported tool.
func (t Tool) Valid() bool {
	switch t {
	case ToolVCSHost, ToolGit, ToolCRM, ToolDataPlatform, ToolSQL:
		return true
	}
	return false
}

// ParseTool accepts canonical names and the binary names of the wrapped CLIs.
func ParseTool(s string) (Tool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vcs_host", "gh", "github":
		return ToolVCSHost, nil
	case "git":
		return ToolGit, nil
	case "crm", "sf", "sfdx", "salesforce":
		return ToolCRM, nil
	case "data_platform", "supabase":
		return ToolDataPlatform, nil
	case "sql", "psql":
		return ToolSQL, nil
	default:
		return "", fmt.Errorf("%w: unknown tool %q", ErrMalformedRequest, s)
	}
}

// Outcome is the result of gating a decision.
type Outcome string

const (
	OutcomePending   Outcome = "pending_confirmation"
	OutcomeApproved  Outcome = "approved"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeBlocked   Outcome = "blocked"
)

// Final reports whether no further transition is possible.
func (o Outcome) Final() bool {
	return o == OutcomeApproved || o == OutcomeCancelled || o == OutcomeBlocked
}
