// limiter/rules.go
// Purpose: Typed rule registry mapping (endpoint pattern, client type) to
// rate-limit rule lists. Built once at startup and immutable afterwards.

package limiter

import (
	"fmt"
	"strings"

	"github.com/carebot/secore/classifier"
)

// DefaultEndpoint is the catch-all rule-set key consulted when neither an
// exact nor a pattern match exists for an endpoint.
const DefaultEndpoint = "default"

type typeRules map[classifier.ClientType][]RateLimit

type patternRules struct {
	pattern string
	rules   typeRules
}

// Ruleset resolves which rules apply to a request. Lookup order: exact
// endpoint match, then wildcard patterns in registration order ("path*"
// prefix or "a*b" prefix/suffix), then the default set. A client type with
// no configured rules is allowed unconditionally: rate limiting is advisory,
// not a security boundary on its own.
type Ruleset struct {
	exact    map[string]typeRules
	patterns []patternRules
	defaults typeRules
	sealed   bool
}

// NewRuleset creates an empty rule registry.
func NewRuleset() *Ruleset {
	return &Ruleset{
		exact:    make(map[string]typeRules),
		defaults: make(typeRules),
	}
}

// Add registers rules for an (endpoint, client type) pair. Endpoint may be
// exact ("/login"), a wildcard pattern ("/api/*", "/api/*/upload"), or
// DefaultEndpoint. Malformed rules are rejected; callers treat that as fatal
// at startup.
func (rs *Ruleset) Add(endpoint string, clientType classifier.ClientType, rules ...RateLimit) error {
	if rs.sealed {
		return fmt.Errorf("ruleset is sealed")
	}
	if endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if len(rules) == 0 {
		return fmt.Errorf("at least one rule required for %q", endpoint)
	}

	normalized := make([]RateLimit, len(rules))
	for i, rule := range rules {
		if err := rule.Normalize(); err != nil {
			return fmt.Errorf("rule %d for %q (%s): %w", i, endpoint, clientType, err)
		}
		normalized[i] = rule
	}

	switch {
	case endpoint == DefaultEndpoint:
		rs.defaults[clientType] = append(rs.defaults[clientType], normalized...)

	case strings.Contains(endpoint, "*"):
		if strings.Count(endpoint, "*") > 1 {
			return fmt.Errorf("pattern %q: at most one wildcard supported", endpoint)
		}
		for i := range rs.patterns {
			if rs.patterns[i].pattern == endpoint {
				rs.patterns[i].rules[clientType] = append(rs.patterns[i].rules[clientType], normalized...)
				return nil
			}
		}
		rs.patterns = append(rs.patterns, patternRules{
			pattern: endpoint,
			rules:   typeRules{clientType: normalized},
		})

	default:
		if rs.exact[endpoint] == nil {
			rs.exact[endpoint] = make(typeRules)
		}
		rs.exact[endpoint][clientType] = append(rs.exact[endpoint][clientType], normalized...)
	}

	return nil
}

// Seal marks the ruleset immutable. Further Add calls fail.
func (rs *Ruleset) Seal() {
	rs.sealed = true
}

// Match returns the rules for (endpoint, clientType), or nil when none are
// configured.
func (rs *Ruleset) Match(endpoint string, clientType classifier.ClientType) []RateLimit {
	if byType, ok := rs.exact[endpoint]; ok {
		if rules, ok := byType[clientType]; ok {
			return rules
		}
	}

	for _, p := range rs.patterns {
		if !matchPattern(p.pattern, endpoint) {
			continue
		}
		if rules, ok := p.rules[clientType]; ok {
			return rules
		}
	}

	return rs.defaults[clientType]
}

func matchPattern(pattern, endpoint string) bool {
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return pattern == endpoint
	}

	prefix, suffix := pattern[:idx], pattern[idx+1:]
	if len(endpoint) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(endpoint, prefix) && strings.HasSuffix(endpoint, suffix)
}
