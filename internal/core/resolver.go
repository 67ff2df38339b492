package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ProbeResult is what an environment probe learned about a target.
type ProbeResult struct {
	IsIsolated       bool   `json:"is_isolated"`
	IsStaging        bool   `json:"is_staging"`
	ResolvedIdentity string `json:"resolved_identity,omitempty"`
	// Host is the network host of the target, when known. It is matched
	// against the staging and isolated host patterns.
	Host string `json:"host,omitempty"`
}

// Empty reports whether the probe returned nothing usable.
func (r ProbeResult) Empty() bool {
	return !r.IsIsolated && !r.IsStaging && strings.TrimSpace(r.ResolvedIdentity) == "" && strings.TrimSpace(r.Host) == ""
}

// EnvironmentProbe asks the live system what a target reference points at.
type EnvironmentProbe interface {
	Probe(ctx context.Context, targetRef string) (ProbeResult, error)
}

// ProbeFunc adapts a function to EnvironmentProbe.
type ProbeFunc func(ctx context.Context, targetRef string) (ProbeResult, error)

func (f ProbeFunc) Probe(ctx context.Context, targetRef string) (ProbeResult, error) {
	return f(ctx, targetRef)
}

// DefaultProbeTimeout bounds a single probe call.
const DefaultProbeTimeout = 10 * time.Second

// DefaultStagingHostPatterns match hosts that are non-production by name.
func DefaultStagingHostPatterns() []string {
	return []string{
		`(^|[.\-])(staging|stage|stg|sandbox|uat|qa|preview|dev|test)([.\-]|$)`,
		`--[a-z0-9]+\.sandbox\.my\.salesforce\.com$`,
		`\.sandbox\.my\.salesforce\.com$`,
		`^test\.salesforce\.com$`,
	}
}

// DefaultIsolatedHostPatterns match hosts that can only be local.
func DefaultIsolatedHostPatterns() []string {
	return []string{
		`^(localhost|127\.\d+\.\d+\.\d+|::1|\[::1\])$`,
		`^host\.docker\.internal$`,
	}
}

// Resolution is the resolver's verdict plus the evidence behind it.
type Resolution struct {
	Sensitivity Sensitivity   `json:"sensitivity"`
	Evidence    string        `json:"evidence"`
	Probe       ProbeResult   `json:"probe"`
	Err         string        `json:"error,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Resolver normalises probe answers into a Sensitivity. It fails closed:
// anything it cannot interpret becomes SensitivityUnknown.
type Resolver struct {
	probeTimeout time.Duration
	staging      []*regexp.Regexp
	isolated     []*regexp.Regexp
	logger       *log.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver) error

// WithProbeTimeout sets the per-call probe bound. Non-positive values keep
// the default.
func WithProbeTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) error {
		if d > 0 {
			r.probeTimeout = d
		}
		return nil
	}
}

// WithStagingHosts appends host patterns treated as staging.
func WithStagingHosts(patterns ...string) ResolverOption {
	return func(r *Resolver) error {
		compiled, err := compileHostPatterns(patterns)
		if err != nil {
			return err
		}
		r.staging = append(r.staging, compiled...)
		return nil
	}
}

// WithIsolatedHosts appends host patterns treated as isolated.
func WithIsolatedHosts(patterns ...string) ResolverOption {
	return func(r *Resolver) error {
		compiled, err := compileHostPatterns(patterns)
		if err != nil {
			return err
		}
		r.isolated = append(r.isolated, compiled...)
		return nil
	}
}

// WithResolverLogger sets the logger used for probe failures.
func WithResolverLogger(logger *log.Logger) ResolverOption {
	return func(r *Resolver) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// NewResolver creates a resolver with the default host patterns.
func NewResolver(opts ...ResolverOption) (*Resolver, error) {
	r := &Resolver{
		probeTimeout: DefaultProbeTimeout,
		logger:       log.Default(),
	}
	var err error
	if r.staging, err = compileHostPatterns(DefaultStagingHostPatterns()); err != nil {
		return nil, err
	}
	if r.isolated, err = compileHostPatterns(DefaultIsolatedHostPatterns()); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func compileHostPatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compiling host pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Resolve returns the sensitivity of targetRef. It never returns an error.
func (r *Resolver) Resolve(ctx context.Context, targetRef string, probe EnvironmentProbe) Sensitivity {
	return r.ResolveDetailed(ctx, targetRef, probe).Sensitivity
}

type probeOutcome struct {
	result ProbeResult
	err    error
}

// ResolveDetailed is Resolve plus the evidence for display and auditing.
// The probe is called exactly once.
func (r *Resolver) ResolveDetailed(ctx context.Context, targetRef string, probe EnvironmentProbe) (res Resolution) {
	start := time.Now()
	res.Sensitivity = SensitivityUnknown
	defer func() {
		res.Elapsed = time.Since(start)
	}()

	if probe == nil {
		res.Evidence = "no environment probe for target"
		res.Err = ErrProbeFailure.Error()
		r.logger.Warn("environment probe unavailable", "target", RedactTarget(targetRef))
		return res
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- probeOutcome{err: fmt.Errorf("%w: probe panicked: %v", ErrProbeFailure, p)}
			}
		}()
		pr, err := probe.Probe(probeCtx, targetRef)
		done <- probeOutcome{result: pr, err: err}
	}()

	var out probeOutcome
	select {
	case out = <-done:
	case <-probeCtx.Done():
		out.err = fmt.Errorf("%w: %v", ErrProbeFailure, probeCtx.Err())
	}

	if out.err != nil {
		res.Evidence = "probe failed"
		res.Err = out.err.Error()
		r.logger.Warn("environment probe failed; treating target as unknown",
			"target", RedactTarget(targetRef),
			"error", out.err,
		)
		return res
	}

	res.Probe = out.result
	res.Sensitivity, res.Evidence = r.normalise(out.result)
	r.logger.Debug("environment resolved",
		"target", RedactTarget(targetRef),
		"sensitivity", res.Sensitivity,
		"evidence", res.Evidence,
	)
	return res
}

// normalise applies the indicator priority: isolated, staging, identity.
func (r *Resolver) normalise(pr ProbeResult) (Sensitivity, string) {
	host := strings.TrimSpace(pr.Host)
	switch {
	case pr.Empty():
		return SensitivityUnknown, "probe returned no identity"
	case pr.IsIsolated:
		return SensitivityIsolated, "target reports itself isolated"
	case host != "" && matchesAny(r.isolated, host):
		return SensitivityIsolated, fmt.Sprintf("host %s is local", host)
	case pr.IsStaging:
		return SensitivityStaging, "target reports itself as staging/sandbox"
	case host != "" && matchesAny(r.staging, host):
		return SensitivityStaging, fmt.Sprintf("host %s matches a staging pattern", host)
	case strings.TrimSpace(pr.ResolvedIdentity) != "" || host != "":
		id := strings.TrimSpace(pr.ResolvedIdentity)
		if id == "" {
			id = host
		}
		return SensitivityProduction, fmt.Sprintf("resolved %s with no non-production marker", id)
	}
	return SensitivityUnknown, "probe result could not be interpreted"
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
