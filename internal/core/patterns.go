package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Rule is one row of a tool's classification table. Every predicate that
// is set must hold for the rule to match.
type Rule struct {
	Tool Tool
	Tier RiskTier
	// Action matches the request action exactly.
	Action string
	// ActionPrefix and ActionSuffix match the action by prefix/suffix.
	ActionPrefix string
	ActionSuffix string
	// Flags must all be present; AnyFlags needs at least one.
	Flags    []string
	AnyFlags []string
	// Pattern is a regex matched against the raw payload (case-insensitive).
	Pattern  string
	Compiled *regexp.Regexp
	// Check is a code predicate for conditions a regex cannot express.
	Check func(OperationRequest) bool
	// CheckName labels Check in listings and exports.
	CheckName string
	// Reason is shown to the human when the rule matches.
	Reason string
	// Source is "builtin" or "config".
	Source string
}

func (r *Rule) hasPredicate() bool {
	return r.Action != "" || r.ActionPrefix != "" || r.ActionSuffix != "" ||
		len(r.Flags) > 0 || len(r.AnyFlags) > 0 || r.Compiled != nil || r.Check != nil
}

func (r *Rule) matches(req OperationRequest) bool {
	action := req.Action()
	if r.Action != "" && !strings.EqualFold(action, r.Action) {
		return false
	}
	if r.ActionPrefix != "" && !strings.HasPrefix(strings.ToLower(action), strings.ToLower(r.ActionPrefix)) {
		return false
	}
	if r.ActionSuffix != "" && !strings.HasSuffix(strings.ToLower(action), strings.ToLower(r.ActionSuffix)) {
		return false
	}
	for _, f := range r.Flags {
		if !req.HasFlag(f) {
			return false
		}
	}
	if len(r.AnyFlags) > 0 {
		found := false
		for _, f := range r.AnyFlags {
			if req.HasFlag(f) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.Compiled != nil && !r.Compiled.MatchString(matchPayload(req)) {
		return false
	}
	if r.Check != nil && !r.Check(req) {
		return false
	}
	return true
}

// matchPayload is the text payload patterns run against. SQL payloads are
// matched without comments or string literals.
func matchPayload(req OperationRequest) string {
	if req.Tool() != ToolSQL {
		return req.RawPayload()
	}
	statements := splitSQL(req.RawPayload())
	parts := make([]string, 0, len(statements))
	for _, st := range statements {
		parts = append(parts, st.Clean)
	}
	return strings.Join(parts, ";\n")
}

// Signature is a stable textual form of the rule's predicates, used for
// listing and hashing.
func (r *Rule) Signature() string {
	var parts []string
	if r.Action != "" {
		parts = append(parts, "action="+r.Action)
	}
	if r.ActionPrefix != "" {
		parts = append(parts, "action^="+r.ActionPrefix)
	}
	if r.ActionSuffix != "" {
		parts = append(parts, "action$="+r.ActionSuffix)
	}
	if len(r.Flags) > 0 {
		parts = append(parts, "flags="+strings.Join(r.Flags, "+"))
	}
	if len(r.AnyFlags) > 0 {
		parts = append(parts, "any_flag="+strings.Join(r.AnyFlags, "|"))
	}
	if r.Pattern != "" {
		parts = append(parts, "payload~"+r.Pattern)
	}
	if r.CheckName != "" {
		parts = append(parts, "check="+r.CheckName)
	}
	return strings.Join(parts, " ")
}

// ToolProfile holds per-tool data hygiene settings.
type ToolProfile struct {
	// DefaultLimit is the row limit suggested for unbounded reads.
	DefaultLimit int
	// PIIFields are column/field names treated as personal data.
	PIIFields []string
	// SQLActions lists actions whose payload is SQL-shaped. "*" matches all.
	SQLActions []string
}

func (p ToolProfile) sqlShaped(action string) bool {
	for _, a := range p.SQLActions {
		if a == "*" || strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}

// DefaultToolProfiles returns the built-in hygiene settings. The PII lists
// are a starting point, not a product decision.
func DefaultToolProfiles() map[Tool]ToolProfile {
	return map[Tool]ToolProfile{
		ToolSQL: {
			DefaultLimit: 1000,
			PIIFields:    []string{"email", "phone", "ssn", "date_of_birth", "dob", "password", "password_hash", "address", "ip_address"},
			SQLActions:   []string{"*"},
		},
		ToolCRM: {
			DefaultLimit: 200,
			PIIFields:    []string{"email", "phone", "mobilephone", "birthdate", "mailingstreet", "ssn__c"},
			SQLActions:   []string{"data.query", "data.export.bulk"},
		},
		ToolDataPlatform: {
			DefaultLimit: 1000,
			PIIFields:    []string{"email", "phone", "raw_user_meta_data"},
		},
		ToolVCSHost: {},
		ToolGit:     {},
	}
}

// Classification is the classifier's verdict for one request.
type Classification struct {
	Tier RiskTier `json:"tier"`
	// Reasons lists every matching rule reason at the winning tier.
	Reasons []string `json:"reasons"`
	// Warnings are data hygiene notes that never raise the tier.
	Warnings []string `json:"warnings,omitempty"`
	// TouchesPII is set when a read names a configured PII field.
	TouchesPII bool `json:"touches_pii,omitempty"`
}

// ReasonNoMatch is the reason given for requests no rule matched.
const ReasonNoMatch = "no risk pattern matched"

// PatternEngine classifies requests with ordered per-tool rule tables.
type PatternEngine struct {
	mu       sync.RWMutex
	rules    map[Tool]map[RiskTier][]*Rule
	profiles map[Tool]ToolProfile
}

// EngineOption configures a PatternEngine.
type EngineOption func(*PatternEngine)

// WithToolProfiles overrides hygiene settings for the given tools.
func WithToolProfiles(profiles map[Tool]ToolProfile) EngineOption {
	return func(e *PatternEngine) {
		for tool, p := range profiles {
			e.profiles[tool] = p
		}
	}
}

// NewPatternEngine creates an engine with the built-in rule tables.
func NewPatternEngine(opts ...EngineOption) *PatternEngine {
	e := &PatternEngine{
		rules:    make(map[Tool]map[RiskTier][]*Rule),
		profiles: DefaultToolProfiles(),
	}
	for _, r := range builtinRules() {
		if err := e.addLocked(r); err != nil {
			// Built-in rules must always be valid.
			panic(fmt.Sprintf("invalid builtin rule %q: %v", r.Reason, err))
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule appends a rule to its tool/tier table. Rules can only add
// scrutiny: a matching rule at a higher tier wins over lower ones.
func (e *PatternEngine) AddRule(r Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.Source == "" {
		r.Source = "config"
	}
	return e.addLocked(r)
}

func (e *PatternEngine) addLocked(r Rule) error {
	if !r.Tool.Valid() {
		return fmt.Errorf("unknown tool %q", r.Tool)
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("invalid tier %d", int(r.Tier))
	}
	if r.Pattern != "" && r.Compiled == nil {
		compiled, err := regexp.Compile("(?is)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("compiling pattern %q: %w", r.Pattern, err)
		}
		r.Compiled = compiled
	}
	if !r.hasPredicate() {
		return fmt.Errorf("rule %q has no predicate", r.Reason)
	}
	if r.Reason == "" {
		r.Reason = r.Signature()
	}
	byTier, ok := e.rules[r.Tool]
	if !ok {
		byTier = make(map[RiskTier][]*Rule)
		e.rules[r.Tool] = byTier
	}
	rule := r
	byTier[r.Tier] = append(byTier[r.Tier], &rule)
	return nil
}

// Profile returns the hygiene settings for a tool.
func (e *PatternEngine) Profile(tool Tool) ToolProfile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profiles[tool]
}

// Classify maps a request to a base tier. Tiers are checked from the most
// severe down; the first tier with any matching rule wins and all of its
// matching reasons are returned.
func (e *PatternEngine) Classify(req OperationRequest) (Classification, error) {
	if err := req.Validate(); err != nil {
		return Classification{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var res Classification
	profile := e.profiles[req.Tool()]
	if profile.sqlShaped(req.Action()) {
		if err := e.inspectSQL(req, profile, &res); err != nil {
			return Classification{}, err
		}
	}

	byTier := e.rules[req.Tool()]
	for _, tier := range []RiskTier{TierForbidden, TierDestructive, TierWrite} {
		var reasons []string
		for _, r := range byTier[tier] {
			if r.matches(req) {
				reasons = append(reasons, r.Reason)
			}
		}
		if len(reasons) > 0 {
			res.Tier = tier
			res.Reasons = reasons
			return res, nil
		}
	}

	res.Tier = TierSafe
	for _, r := range byTier[TierSafe] {
		if r.matches(req) {
			res.Reasons = append(res.Reasons, r.Reason)
		}
	}
	if len(res.Reasons) == 0 {
		res.Reasons = []string{ReasonNoMatch}
	}
	return res, nil
}

// inspectSQL applies the checks that are independent of tiering: SELECT *
// rejection, missing LIMIT warnings and PII detection.
func (e *PatternEngine) inspectSQL(req OperationRequest, profile ToolProfile, res *Classification) error {
	statements := splitSQL(req.RawPayload())
	if len(statements) == 0 {
		return fmt.Errorf("%w: %s payload has no statements", ErrMalformedRequest, req.Tool())
	}
	for _, st := range statements {
		if st.selectsStar() {
			return &ClassifyError{Tool: req.Tool(), Statement: st.Raw, Err: ErrSelectStar}
		}
	}
	for _, st := range statements {
		if !st.isRead() {
			continue
		}
		if st.readsTable() && !st.hasLimit() {
			if profile.DefaultLimit > 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("read without LIMIT (suggest LIMIT %d): %s", profile.DefaultLimit, st.Raw))
			} else {
				res.Warnings = append(res.Warnings, "read without LIMIT: "+st.Raw)
			}
		}
		if hits := st.mentionsAny(profile.PIIFields); len(hits) > 0 {
			res.TouchesPII = true
			res.Warnings = append(res.Warnings, "reads PII fields: "+strings.Join(hits, ", "))
		}
	}
	return nil
}

// ListRules returns the rules for a tool, most severe tier first.
func (e *PatternEngine) ListRules(tool Tool) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Rule
	byTier := e.rules[tool]
	for _, tier := range []RiskTier{TierForbidden, TierDestructive, TierWrite, TierSafe} {
		for _, r := range byTier[tier] {
			out = append(out, *r)
		}
	}
	return out
}

// RuleExport is the exported form of the rule tables.
type RuleExport struct {
	Version     string                  `json:"version"`
	GeneratedAt time.Time               `json:"generated_at"`
	SHA256      string                  `json:"sha256"`
	Tools       map[Tool]ToolRuleExport `json:"tools"`
	RuleCount   int                     `json:"rule_count"`
}

// ToolRuleExport lists one tool's rules and hygiene profile.
type ToolRuleExport struct {
	DefaultLimit int           `json:"default_limit,omitempty"`
	PIIFields    []string      `json:"pii_fields,omitempty"`
	Rules        []RuleDetails `json:"rules"`
}

// RuleDetails describes a single rule for export.
type RuleDetails struct {
	Tier      RiskTier `json:"tier"`
	Signature string   `json:"match"`
	Reason    string   `json:"reason"`
	Source    string   `json:"source"`
}

// Export returns every rule with a hash for change detection.
func (e *PatternEngine) Export() *RuleExport {
	export := &RuleExport{
		Version:     "1.0.0",
		GeneratedAt: time.Now().UTC(),
		Tools:       make(map[Tool]ToolRuleExport),
	}
	for _, tool := range AllTools() {
		profile := e.Profile(tool)
		rules := e.ListRules(tool)
		details := make([]RuleDetails, 0, len(rules))
		for _, r := range rules {
			details = append(details, RuleDetails{Tier: r.Tier, Signature: r.Signature(), Reason: r.Reason, Source: r.Source})
		}
		export.Tools[tool] = ToolRuleExport{
			DefaultLimit: profile.DefaultLimit,
			PIIFields:    profile.PIIFields,
			Rules:        details,
		}
		export.RuleCount += len(details)
	}
	export.SHA256 = e.ComputeHash()
	return export
}

// ExportJSON returns the export as indented JSON.
func (e *PatternEngine) ExportJSON() (string, error) {
	data, err := json.MarshalIndent(e.Export(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ComputeHash returns a deterministic hash of all rules.
func (e *PatternEngine) ComputeHash() string {
	var all []string
	for _, tool := range AllTools() {
		for _, r := range e.ListRules(tool) {
			all = append(all, fmt.Sprintf("%s:%s:%s", tool, r.Tier, r.Signature()))
		}
	}
	sort.Strings(all)

	h := sha256.New()
	for _, s := range all {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
