// Package config loads opgate configuration.
//
// Values are layered, lowest to highest: built-in defaults, the user file
// (~/.opgate/config.toml), the project file (<project>/.opgate/config.toml),
// OPGATE_* environment variables, then flag overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/spf13/viper"
)

// Config is the full opgate configuration.
type Config struct {
	General  GeneralConfig  `toml:"general" mapstructure:"general" json:"general"`
	Audit    AuditConfig    `toml:"audit" mapstructure:"audit" json:"audit"`
	Bypass   BypassConfig   `toml:"bypass" mapstructure:"bypass" json:"bypass"`
	Context  ContextConfig  `toml:"context" mapstructure:"context" json:"context"`
	Tools    ToolsConfig    `toml:"tools" mapstructure:"tools" json:"tools"`
	Patterns PatternsConfig `toml:"patterns" mapstructure:"patterns" json:"patterns"`
	Policy   PolicyConfig   `toml:"policy" mapstructure:"policy" json:"policy"`
}

type GeneralConfig struct {
	ConfirmTimeoutSecs int    `toml:"confirm_timeout" mapstructure:"confirm_timeout" json:"confirm_timeout"`
	ProbeTimeoutSecs   int    `toml:"probe_timeout" mapstructure:"probe_timeout" json:"probe_timeout"`
	ForbiddenAction    string `toml:"forbidden_action" mapstructure:"forbidden_action" json:"forbidden_action"`
	// NonInteractiveAction is "block" or "tty" (ask on /dev/tty when stdin
	// is not a terminal).
	NonInteractiveAction string `toml:"non_interactive_action" mapstructure:"non_interactive_action" json:"non_interactive_action"`
	Theme                string `toml:"theme" mapstructure:"theme" json:"theme"`
	Accessible           bool   `toml:"accessible" mapstructure:"accessible" json:"accessible"`
	// SessionLockDir holds the lock files that keep one confirmation per
	// session at a time across processes. Empty disables them.
	SessionLockDir string `toml:"session_lock_dir" mapstructure:"session_lock_dir" json:"session_lock_dir"`
}

type AuditConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled" json:"enabled"`
	JSONLPath    string `toml:"jsonl_path" mapstructure:"jsonl_path" json:"jsonl_path"`
	DatabasePath string `toml:"database_path" mapstructure:"database_path" json:"database_path"`
}

type BypassConfig struct {
	// TokenSHA256 holds hex SHA-256 digests of accepted bypass tokens.
	TokenSHA256   []string `toml:"token_sha256" mapstructure:"token_sha256" json:"token_sha256"`
	AllowedActors []string `toml:"allowed_actors" mapstructure:"allowed_actors" json:"allowed_actors"`
}

type ContextConfig struct {
	StagingHosts  []string `toml:"staging_hosts" mapstructure:"staging_hosts" json:"staging_hosts"`
	IsolatedHosts []string `toml:"isolated_hosts" mapstructure:"isolated_hosts" json:"isolated_hosts"`
}

type ToolConfig struct {
	DefaultLimit int      `toml:"default_limit" mapstructure:"default_limit" json:"default_limit"`
	PIIFields    []string `toml:"pii_fields" mapstructure:"pii_fields" json:"pii_fields"`
}

type ToolsConfig struct {
	VCSHost      ToolConfig `toml:"vcs_host" mapstructure:"vcs_host" json:"vcs_host"`
	Git          ToolConfig `toml:"git" mapstructure:"git" json:"git"`
	CRM          ToolConfig `toml:"crm" mapstructure:"crm" json:"crm"`
	DataPlatform ToolConfig `toml:"data_platform" mapstructure:"data_platform" json:"data_platform"`
	SQL          ToolConfig `toml:"sql" mapstructure:"sql" json:"sql"`
}

// For returns the settings of tool.
func (t ToolsConfig) For(tool core.Tool) ToolConfig {
	switch tool {
	case core.ToolVCSHost:
		return t.VCSHost
	case core.ToolGit:
		return t.Git
	case core.ToolCRM:
		return t.CRM
	case core.ToolDataPlatform:
		return t.DataPlatform
	case core.ToolSQL:
		return t.SQL
	}
	return ToolConfig{}
}

// CustomPattern is an extra classification rule from [[patterns.custom]].
type CustomPattern struct {
	Tool    string   `toml:"tool" mapstructure:"tool" json:"tool"`
	Tier    string   `toml:"tier" mapstructure:"tier" json:"tier"`
	Action  string   `toml:"action" mapstructure:"action" json:"action,omitempty"`
	Pattern string   `toml:"pattern" mapstructure:"pattern" json:"pattern,omitempty"`
	Flags   []string `toml:"flags" mapstructure:"flags" json:"flags,omitempty"`
	Reason  string   `toml:"reason" mapstructure:"reason" json:"reason"`
}

type PatternsConfig struct {
	Custom []CustomPattern `toml:"custom" mapstructure:"custom" json:"custom"`
}

type PolicyConfig struct {
	// PinnedActions are "tool:action" entries that always need the full
	// multi-step protocol.
	PinnedActions []string `toml:"pinned_actions" mapstructure:"pinned_actions" json:"pinned_actions"`
}

// LoadOptions controls config loading.
type LoadOptions struct {
	ProjectDir string
	// ConfigPath replaces the project config file when set.
	ConfigPath    string
	FlagOverrides map[string]any
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	profiles := core.DefaultToolProfiles()
	tool := func(t core.Tool) ToolConfig {
		p := profiles[t]
		return ToolConfig{DefaultLimit: p.DefaultLimit, PIIFields: append([]string{}, p.PIIFields...)}
	}
	return Config{
		General: GeneralConfig{
			ConfirmTimeoutSecs:   int(core.DefaultConfirmTimeout / time.Second),
			ProbeTimeoutSecs:     int(core.DefaultProbeTimeout / time.Second),
			ForbiddenAction:      core.ForbiddenPrompt,
			NonInteractiveAction: NonInteractiveBlock,
			Theme:                "dark",
			SessionLockDir:       "~/.opgate/sessions",
		},
		Audit: AuditConfig{
			Enabled:      true,
			JSONLPath:    "~/.opgate/audit.jsonl",
			DatabasePath: "~/.opgate/audit.db",
		},
		Bypass:  BypassConfig{TokenSHA256: []string{}, AllowedActors: []string{}},
		Context: ContextConfig{StagingHosts: []string{}, IsolatedHosts: []string{}},
		Tools: ToolsConfig{
			VCSHost:      tool(core.ToolVCSHost),
			Git:          tool(core.ToolGit),
			CRM:          tool(core.ToolCRM),
			DataPlatform: tool(core.ToolDataPlatform),
			SQL:          tool(core.ToolSQL),
		},
		Patterns: PatternsConfig{Custom: []CustomPattern{}},
		Policy:   PolicyConfig{PinnedActions: []string{}},
	}
}

// Non-interactive handling.
const (
	NonInteractiveBlock = "block"
	NonInteractiveTTY   = "tty"
)

// Load reads configuration using the layered precedence.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	userPath, projectPath := ConfigPaths(opts.ProjectDir, opts.ConfigPath)
	if err := mergeConfigFile(v, userPath); err != nil {
		return Config{}, err
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return Config{}, err
	}

	bindEnv(v)

	for k, val := range opts.FlagOverrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Audit.JSONLPath = expandHome(cfg.Audit.JSONLPath)
	cfg.Audit.DatabasePath = expandHome(cfg.Audit.DatabasePath)
	cfg.General.SessionLockDir = expandHome(cfg.General.SessionLockDir)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigPaths returns the user and project config paths. A non-empty
// override replaces the project path.
func ConfigPaths(projectDir, override string) (string, string) {
	home, _ := os.UserHomeDir()
	userPath := filepath.Join(home, ".opgate", "config.toml")
	return userPath, projectConfigPath(projectDir, override)
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	if projectDir == "" {
		return filepath.Join(".opgate", "config.toml")
	}
	return filepath.Join(projectDir, ".opgate", "config.toml")
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("general.confirm_timeout", d.General.ConfirmTimeoutSecs)
	v.SetDefault("general.probe_timeout", d.General.ProbeTimeoutSecs)
	v.SetDefault("general.forbidden_action", d.General.ForbiddenAction)
	v.SetDefault("general.non_interactive_action", d.General.NonInteractiveAction)
	v.SetDefault("general.theme", d.General.Theme)
	v.SetDefault("general.accessible", d.General.Accessible)
	v.SetDefault("general.session_lock_dir", d.General.SessionLockDir)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.jsonl_path", d.Audit.JSONLPath)
	v.SetDefault("audit.database_path", d.Audit.DatabasePath)

	v.SetDefault("bypass.token_sha256", d.Bypass.TokenSHA256)
	v.SetDefault("bypass.allowed_actors", d.Bypass.AllowedActors)

	v.SetDefault("context.staging_hosts", d.Context.StagingHosts)
	v.SetDefault("context.isolated_hosts", d.Context.IsolatedHosts)

	for _, tool := range core.AllTools() {
		tc := d.Tools.For(tool)
		v.SetDefault("tools."+string(tool)+".default_limit", tc.DefaultLimit)
		v.SetDefault("tools."+string(tool)+".pii_fields", tc.PIIFields)
	}

	v.SetDefault("patterns.custom", []map[string]any{})
	v.SetDefault("policy.pinned_actions", d.Policy.PinnedActions)
}

// envBindings maps OPGATE_* variables to keys.
var envBindings = map[string]string{
	"general.confirm_timeout":        "OPGATE_CONFIRM_TIMEOUT",
	"general.probe_timeout":          "OPGATE_PROBE_TIMEOUT",
	"general.forbidden_action":       "OPGATE_FORBIDDEN_ACTION",
	"general.non_interactive_action": "OPGATE_NON_INTERACTIVE_ACTION",
	"general.theme":                  "OPGATE_THEME",
	"general.accessible":             "OPGATE_ACCESSIBLE",
	"general.session_lock_dir":       "OPGATE_SESSION_LOCK_DIR",
	"audit.enabled":                  "OPGATE_AUDIT_ENABLED",
	"audit.jsonl_path":               "OPGATE_AUDIT_JSONL_PATH",
	"audit.database_path":            "OPGATE_AUDIT_DATABASE_PATH",
	"bypass.allowed_actors":          "OPGATE_BYPASS_ALLOWED_ACTORS",
	"context.staging_hosts":          "OPGATE_STAGING_HOSTS",
	"context.isolated_hosts":         "OPGATE_ISOLATED_HOSTS",
}

func bindEnv(v *viper.Viper) {
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

var sha256Hex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Validate checks configuration values.
func Validate(cfg Config) error {
	var errs []string

	g := cfg.General
	if g.ConfirmTimeoutSecs <= 0 {
		errs = append(errs, "general.confirm_timeout must be > 0")
	}
	if g.ProbeTimeoutSecs <= 0 {
		errs = append(errs, "general.probe_timeout must be > 0")
	}
	if g.ForbiddenAction != core.ForbiddenPrompt && g.ForbiddenAction != core.ForbiddenBlock {
		errs = append(errs, "general.forbidden_action must be prompt or block")
	}
	if g.NonInteractiveAction != NonInteractiveBlock && g.NonInteractiveAction != NonInteractiveTTY {
		errs = append(errs, "general.non_interactive_action must be block or tty")
	}
	switch g.Theme {
	case "", "dark", "light", "mocha", "latte":
	default:
		errs = append(errs, "general.theme must be dark or light")
	}

	if cfg.Audit.Enabled && cfg.Audit.JSONLPath == "" && cfg.Audit.DatabasePath == "" {
		errs = append(errs, "audit is enabled but neither audit.jsonl_path nor audit.database_path is set")
	}

	for _, h := range cfg.Bypass.TokenSHA256 {
		if !sha256Hex.MatchString(strings.TrimSpace(h)) {
			errs = append(errs, fmt.Sprintf("bypass.token_sha256 entry %q is not a hex SHA-256 digest", h))
		}
	}

	for _, p := range cfg.Context.StagingHosts {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Sprintf("context.staging_hosts: %v", err))
		}
	}
	for _, p := range cfg.Context.IsolatedHosts {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Sprintf("context.isolated_hosts: %v", err))
		}
	}

	for _, tool := range core.AllTools() {
		if cfg.Tools.For(tool).DefaultLimit < 0 {
			errs = append(errs, fmt.Sprintf("tools.%s.default_limit must be >= 0", tool))
		}
	}

	for i, cp := range cfg.Patterns.Custom {
		if _, err := cp.Rule(); err != nil {
			errs = append(errs, fmt.Sprintf("patterns.custom[%d]: %v", i, err))
		}
	}

	for _, pin := range cfg.Policy.PinnedActions {
		if _, err := core.ParsePin(pin); err != nil {
			errs = append(errs, fmt.Sprintf("policy.pinned_actions: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Rule converts a custom pattern into a classification rule.
func (cp CustomPattern) Rule() (core.Rule, error) {
	tool, err := core.ParseTool(cp.Tool)
	if err != nil {
		return core.Rule{}, err
	}
	tier, err := core.ParseRiskTier(cp.Tier)
	if err != nil {
		return core.Rule{}, err
	}
	if strings.TrimSpace(cp.Reason) == "" {
		return core.Rule{}, errors.New("reason is required")
	}
	if cp.Action == "" && cp.Pattern == "" && len(cp.Flags) == 0 {
		return core.Rule{}, errors.New("one of action, pattern or flags is required")
	}
	r := core.Rule{
		Tool:   tool,
		Tier:   tier,
		Action: cp.Action,
		Flags:  cp.Flags,
		Reason: cp.Reason,
		Source: "config",
	}
	if cp.Pattern != "" {
		compiled, err := regexp.Compile("(?is)" + cp.Pattern)
		if err != nil {
			return core.Rule{}, fmt.Errorf("compiling pattern %q: %w", cp.Pattern, err)
		}
		r.Pattern = cp.Pattern
		r.Compiled = compiled
	}
	return r, nil
}

// ToolProfiles merges configured tool settings over the built-in profiles.
func (c Config) ToolProfiles() map[core.Tool]core.ToolProfile {
	profiles := core.DefaultToolProfiles()
	for _, tool := range core.AllTools() {
		p := profiles[tool]
		tc := c.Tools.For(tool)
		if tc.DefaultLimit > 0 {
			p.DefaultLimit = tc.DefaultLimit
		}
		if len(tc.PIIFields) > 0 {
			p.PIIFields = tc.PIIFields
		}
		profiles[tool] = p
	}
	return profiles
}

// Pins parses policy.pinned_actions.
func (c Config) Pins() ([]core.Pin, error) {
	pins := make([]core.Pin, 0, len(c.Policy.PinnedActions))
	for _, s := range c.Policy.PinnedActions {
		pin, err := core.ParsePin(s)
		if err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	return pins, nil
}

// ConfirmTimeout returns general.confirm_timeout as a duration.
func (c Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.General.ConfirmTimeoutSecs) * time.Second
}

// ProbeTimeout returns general.probe_timeout as a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.General.ProbeTimeoutSecs) * time.Second
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindStringSlice
)

var keyKinds = map[string]valueKind{
	"general.confirm_timeout":        kindInt,
	"general.probe_timeout":          kindInt,
	"general.forbidden_action":       kindString,
	"general.non_interactive_action": kindString,
	"general.theme":                  kindString,
	"general.accessible":             kindBool,
	"general.session_lock_dir":       kindString,
	"audit.enabled":                  kindBool,
	"audit.jsonl_path":               kindString,
	"audit.database_path":            kindString,
	"bypass.token_sha256":            kindStringSlice,
	"bypass.allowed_actors":          kindStringSlice,
	"context.staging_hosts":          kindStringSlice,
	"context.isolated_hosts":         kindStringSlice,
	"policy.pinned_actions":          kindStringSlice,
}

func init() {
	for _, tool := range core.AllTools() {
		keyKinds["tools."+string(tool)+".default_limit"] = kindInt
		keyKinds["tools."+string(tool)+".pii_fields"] = kindStringSlice
	}
}

// ParseValue converts a raw CLI string to the type stored at key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", raw, err)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q: %w", raw, err)
		}
		return b, nil
	case kindStringSlice:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", kind)
	}
}

// GetValue returns the value at a dotted key, or a whole section.
func GetValue(cfg Config, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	section, rest, _ := strings.Cut(key, ".")
	switch section {
	case "general":
		g := cfg.General
		return pick(rest, g, map[string]any{
			"confirm_timeout":        g.ConfirmTimeoutSecs,
			"probe_timeout":          g.ProbeTimeoutSecs,
			"forbidden_action":       g.ForbiddenAction,
			"non_interactive_action": g.NonInteractiveAction,
			"theme":                  g.Theme,
			"accessible":             g.Accessible,
			"session_lock_dir":       g.SessionLockDir,
		})
	case "audit":
		a := cfg.Audit
		return pick(rest, a, map[string]any{
			"enabled":       a.Enabled,
			"jsonl_path":    a.JSONLPath,
			"database_path": a.DatabasePath,
		})
	case "bypass":
		b := cfg.Bypass
		return pick(rest, b, map[string]any{
			"token_sha256":   b.TokenSHA256,
			"allowed_actors": b.AllowedActors,
		})
	case "context":
		c := cfg.Context
		return pick(rest, c, map[string]any{
			"staging_hosts":  c.StagingHosts,
			"isolated_hosts": c.IsolatedHosts,
		})
	case "tools":
		if rest == "" {
			return cfg.Tools, true
		}
		name, field, _ := strings.Cut(rest, ".")
		tool := core.Tool(name)
		if !tool.Valid() {
			return nil, false
		}
		tc := cfg.Tools.For(tool)
		return pick(field, tc, map[string]any{
			"default_limit": tc.DefaultLimit,
			"pii_fields":    tc.PIIFields,
		})
	case "patterns":
		p := cfg.Patterns
		return pick(rest, p, map[string]any{"custom": p.Custom})
	case "policy":
		p := cfg.Policy
		return pick(rest, p, map[string]any{"pinned_actions": p.PinnedActions})
	}
	return nil, false
}

func pick(field string, whole any, fields map[string]any) (any, bool) {
	if field == "" {
		return whole, true
	}
	v, ok := fields[field]
	return v, ok
}

// WriteValue sets key in the TOML file at path, creating it if needed.
func WriteValue(path, key string, value any) error {
	if path == "" {
		return errors.New("config path is empty")
	}

	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	parts := strings.Split(key, ".")
	cur := doc
	for _, seg := range parts[:len(parts)-1] {
		next, ok := cur[seg]
		if !ok {
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q: %s is not a table", key, seg)
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return fmt.Errorf("encode config %s: %w", path, err)
	}
	return nil
}
