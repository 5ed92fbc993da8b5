// Package routematch classifies request paths against ordered sets of route
// prefixes. It is used to decide which routes need a verified email address
// and which are exempt.
package routematch

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier is the classification result for a path.
type Tier int

const (
	// TierDefaultAllow is returned when no pattern matches.
	TierDefaultAllow Tier = iota
	// TierAlwaysRequired overrides any exemption.
	TierAlwaysRequired
	// TierExempt paths skip the check.
	TierExempt
	// TierRequired paths need the check unless exempt.
	TierRequired
)

func (t Tier) String() string {
	switch t {
	case TierAlwaysRequired:
		return "ALWAYS_REQUIRED"
	case TierExempt:
		return "EXEMPT"
	case TierRequired:
		return "REQUIRED"
	default:
		return "DEFAULT_ALLOW"
	}
}

// Requires reports whether a path in this tier must pass the gated check.
func (t Tier) Requires() bool {
	return t == TierAlwaysRequired || t == TierRequired
}

// PatternSet holds the three precedence tiers. It is loaded once at startup
// and treated as immutable.
type PatternSet struct {
	AlwaysRequired []string `yaml:"always_required"`
	Exempt         []string `yaml:"exempt"`
	Required       []string `yaml:"required"`
}

var versionPrefixes = []string{"/api/v1", "/api/v2"}

// Normalize strips a leading API version segment and a trailing slash and
// lowercases the result. Unversioned /api paths, negotiated by header, lose
// the /api segment so they classify like their versioned forms.
func Normalize(path string) string {
	p := strings.ToLower(path)
	stripped := false
	for _, prefix := range versionPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			p = strings.TrimPrefix(p, prefix)
			stripped = true
			break
		}
	}
	if rest, ok := strings.CutPrefix(p, "/api/"); !stripped && ok && !versionSegment(rest) {
		p = "/" + rest
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

// versionSegment reports whether the first segment of p looks like an API
// version such as v3.
func versionSegment(p string) bool {
	seg, _, _ := strings.Cut(p, "/")
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, c := range seg[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Classify returns the first tier, in precedence order, with a matching
// pattern. Patterns are normalized like paths.
//
// Matching is deliberately loose: besides an exact match or a match on a
// segment boundary, a bare prefix also matches, so "/team" matches
// "/teamwork". Existing pattern lists depend on this.
func Classify(path string, set PatternSet) Tier {
	p := Normalize(path)

	switch {
	case matchesAny(p, set.AlwaysRequired):
		return TierAlwaysRequired
	case matchesAny(p, set.Exempt):
		return TierExempt
	case matchesAny(p, set.Required):
		return TierRequired
	}
	return TierDefaultAllow
}

func matchesAny(path string, patterns []string) bool {
	for _, raw := range patterns {
		if raw == "" {
			continue
		}
		if Match(path, Normalize(raw)) {
			return true
		}
	}
	return false
}

// Match tests a normalized path against a normalized pattern.
func Match(path, pattern string) bool {
	if path == pattern {
		return true
	}
	if strings.HasPrefix(path, pattern+"/") {
		return true
	}
	// TODO: drop the bare prefix rule once the exempt lists are audited for
	// patterns that rely on it (e.g. "/appointments" vs "/appointmentsX").
	return strings.HasPrefix(path, pattern)
}

// LoadPatternSet decodes a YAML document with always_required, exempt and
// required lists.
func LoadPatternSet(r io.Reader) (PatternSet, error) {
	var set PatternSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil {
		if errors.Is(err, io.EOF) {
			return PatternSet{}, nil
		}
		return PatternSet{}, fmt.Errorf("failed to decode pattern set: %w", err)
	}
	return set, nil
}

// DefaultEmailVerificationPatterns returns the stock route lists used for
// email verification gating.
func DefaultEmailVerificationPatterns() PatternSet {
	return PatternSet{
		AlwaysRequired: []string{
			"/users/settings/security",
			"/users/settings/billing",
			"/payments",
			"/billing",
			"/firms/transfer-ownership",
		},
		Exempt: []string{
			"/auth",
			"/users/me",
			"/users/verify-email",
			"/users/resend-verification",
			"/users",
			"/health",
			"/webhooks",
			"/public",
		},
		Required: []string{
			"/cases",
			"/clients",
			"/documents",
			"/invoices",
			"/appointments",
			"/tasks",
			"/team",
			"/reports",
			"/integrations",
		},
	}
}
