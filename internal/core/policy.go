package core

import (
	"fmt"
	"regexp"
	"strings"
)

// EscalationTable maps (base tier, sensitivity) to a final tier.
type EscalationTable map[RiskTier]map[Sensitivity]RiskTier

// DefaultEscalationTable returns the governing escalation policy. Cells
// never fall below their row's base tier.
func DefaultEscalationTable() EscalationTable {
	return EscalationTable{
		TierSafe: {
			SensitivityIsolated:   TierSafe,
			SensitivityStaging:    TierSafe,
			SensitivityProduction: TierSafe,
			SensitivityUnknown:    TierWrite,
		},
		TierWrite: {
			SensitivityIsolated:   TierWrite,
			SensitivityStaging:    TierWrite,
			SensitivityProduction: TierDestructive,
			SensitivityUnknown:    TierForbidden,
		},
		TierDestructive: {
			SensitivityIsolated:   TierDestructive,
			SensitivityStaging:    TierDestructive,
			SensitivityProduction: TierForbidden,
			SensitivityUnknown:    TierForbidden,
		},
		TierForbidden: {
			SensitivityIsolated:   TierForbidden,
			SensitivityStaging:    TierForbidden,
			SensitivityProduction: TierForbidden,
			SensitivityUnknown:    TierForbidden,
		},
	}
}

// Clone returns a deep copy of the table.
func (t EscalationTable) Clone() EscalationTable {
	out := make(EscalationTable, len(t))
	for base, row := range t {
		r := make(map[Sensitivity]RiskTier, len(row))
		for sens, tier := range row {
			r[sens] = tier
		}
		out[base] = r
	}
	return out
}

// Validate checks the table is exhaustive over every (tier, sensitivity)
// pair, monotone along rows and columns, and never below the row tier or
// the sensitivity floor. Every failure wraps ErrPolicyGap.
func (t EscalationTable) Validate() error {
	var problems []string
	for _, base := range AllTiers() {
		row, ok := t[base]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing row %s", base))
			continue
		}
		for _, sens := range AllSensitivities() {
			cell, ok := row[sens]
			if !ok {
				problems = append(problems, fmt.Sprintf("missing cell %s/%s", base, sens))
				continue
			}
			if !cell.Valid() {
				problems = append(problems, fmt.Sprintf("cell %s/%s has invalid tier %d", base, sens, int(cell)))
				continue
			}
			if cell < base {
				problems = append(problems, fmt.Sprintf("cell %s/%s=%s lowers the base tier", base, sens, cell))
			}
			if floor := Floor(sens, false); cell < floor {
				problems = append(problems, fmt.Sprintf("cell %s/%s=%s is below the %s floor %s", base, sens, cell, sens, floor))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrPolicyGap, strings.Join(problems, "; "))
	}

	// Monotonicity only makes sense once the table is complete.
	tiers := AllTiers()
	senses := AllSensitivities()
	for i, base := range tiers {
		for j, sens := range senses {
			cell := t[base][sens]
			if j > 0 && cell < t[base][senses[j-1]] {
				problems = append(problems, fmt.Sprintf("row %s decreases from %s to %s", base, senses[j-1], sens))
			}
			if i > 0 && cell < t[tiers[i-1]][sens] {
				problems = append(problems, fmt.Sprintf("column %s decreases from %s to %s", sens, tiers[i-1], base))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrPolicyGap, strings.Join(problems, "; "))
	}
	return nil
}

// Floor returns the minimum tier a sensitivity mandates. Unknown targets
// always need at least write-level scrutiny, as do production reads that
// touch PII.
func Floor(sens Sensitivity, touchesPII bool) RiskTier {
	switch {
	case sens == SensitivityUnknown:
		return TierWrite
	case sens == SensitivityProduction && touchesPII:
		return TierWrite
	}
	return TierSafe
}

// Pin forces the multi-step protocol for a named action regardless of the
// computed tier.
type Pin struct {
	Tool   Tool   `json:"tool"`
	Action string `json:"action"`
	// Pattern, when set, must also match the raw payload.
	Pattern string `json:"pattern,omitempty"`
	Reason  string `json:"reason"`

	compiled *regexp.Regexp
}

func (p *Pin) matches(req OperationRequest) bool {
	if p.Tool != req.Tool() || !strings.EqualFold(p.Action, req.Action()) {
		return false
	}
	return p.compiled == nil || p.compiled.MatchString(req.RawPayload())
}

// DefaultPins lists the actions that always need the full multi-step
// protocol: deleting a whole remote resource, transferring ownership and
// exposing private data.
func DefaultPins() []Pin {
	return []Pin{
		{Tool: ToolVCSHost, Action: "repo.delete", Reason: "deletes an entire repository"},
		{Tool: ToolVCSHost, Action: "repo.edit", Pattern: `--visibility[=\s]+public\b`, Reason: "exposes a private repository"},
		{Tool: ToolVCSHost, Action: "api", Pattern: `/transfer\b`, Reason: "transfers repository ownership"},
		{Tool: ToolDataPlatform, Action: "projects.delete", Reason: "deletes an entire project"},
		{Tool: ToolCRM, Action: "org.delete.sandbox", Reason: "deletes an entire sandbox org"},
	}
}

// ParsePin parses "tool:action" as used in configuration.
func ParsePin(s string) (Pin, error) {
	toolName, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || strings.TrimSpace(action) == "" {
		return Pin{}, fmt.Errorf("invalid pinned action %q (expected tool:action)", s)
	}
	tool, err := ParseTool(toolName)
	if err != nil {
		return Pin{}, err
	}
	return Pin{Tool: tool, Action: strings.TrimSpace(action), Reason: "pinned by configuration"}, nil
}

// Policy combines a base tier and a sensitivity into a final tier and a
// confirmation protocol.
type Policy struct {
	table EscalationTable
	pins  []Pin
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy) error

// WithEscalationCell overrides a single table cell. The resulting table is
// still validated.
func WithEscalationCell(base RiskTier, sens Sensitivity, final RiskTier) PolicyOption {
	return func(p *Policy) error {
		row, ok := p.table[base]
		if !ok {
			row = make(map[Sensitivity]RiskTier)
			p.table[base] = row
		}
		row[sens] = final
		return nil
	}
}

// WithEscalationTable replaces the whole table.
func WithEscalationTable(t EscalationTable) PolicyOption {
	return func(p *Policy) error {
		p.table = t.Clone()
		return nil
	}
}

// WithPins adds pinned actions.
func WithPins(pins ...Pin) PolicyOption {
	return func(p *Policy) error {
		p.pins = append(p.pins, pins...)
		return nil
	}
}

// NewPolicy builds a policy with the default table and pins, then
// validates it. An invalid table is a startup error wrapping ErrPolicyGap.
func NewPolicy(opts ...PolicyOption) (*Policy, error) {
	p := &Policy{
		table: DefaultEscalationTable(),
		pins:  DefaultPins(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if err := p.table.Validate(); err != nil {
		return nil, err
	}
	for i := range p.pins {
		pin := &p.pins[i]
		if !pin.Tool.Valid() || pin.Action == "" {
			return nil, fmt.Errorf("invalid pin %s:%s", pin.Tool, pin.Action)
		}
		if pin.Pattern != "" {
			re, err := regexp.Compile("(?is)" + pin.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compiling pin pattern %q: %w", pin.Pattern, err)
			}
			pin.compiled = re
		}
	}
	return p, nil
}

// Table returns a copy of the escalation table.
func (p *Policy) Table() EscalationTable {
	return p.table.Clone()
}

// Pins returns the configured pins.
func (p *Policy) Pins() []Pin {
	out := make([]Pin, len(p.pins))
	copy(out, p.pins)
	return out
}

// Decide looks up the final tier and maps it to a protocol. The result is
// never below the base tier or the sensitivity floor.
func (p *Policy) Decide(base RiskTier, sens Sensitivity) (RiskTier, Protocol) {
	final := MaxTier(base, p.table[base][sens], Floor(sens, false))
	return final, newProtocol(ProtocolKindFor(final))
}

// PinFor returns the first pin matching req.
func (p *Policy) PinFor(req OperationRequest) (Pin, bool) {
	for _, pin := range p.pins {
		if pin.matches(req) {
			return pin, true
		}
	}
	return Pin{}, false
}

// Evaluate builds a pending Decision from a classification and a
// resolved sensitivity. The PII floor and pins are applied after the
// table lookup and only ever raise.
func (p *Policy) Evaluate(req OperationRequest, cls Classification, sens Sensitivity) *Decision {
	final, proto := p.Decide(cls.Tier, sens)
	final = MaxTier(final, Floor(sens, cls.TouchesPII))
	kind := MaxProtocolKind(proto.Kind, ProtocolKindFor(final))

	d := newDecision(req, cls, sens)
	d.FinalTier = final
	if pin, ok := p.PinFor(req); ok {
		kind = ProtocolMultiStep
		d.Pinned = true
		d.PinReason = pin.Reason
	}

	reasons := cls.Reasons
	if d.Pinned {
		reasons = append(append([]string(nil), reasons...), "pinned: "+d.PinReason)
	}
	d.Protocol = buildProtocol(kind, req, reasons, final, sens)
	d.minTier, d.minProtocol, d.pinReasons = final, kind, reasons
	return d
}

// MaxProtocolKind returns the higher-friction of two kinds.
func MaxProtocolKind(a, b ProtocolKind) ProtocolKind {
	if b.rank() > a.rank() {
		return b
	}
	return a
}
