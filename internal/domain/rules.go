package domain

import (
	"fmt"
	"path"
)

// PocketRef is one (codename, pocket) destination produced by rule
// matching. Priority is the index of the pattern that matched within
// the winning rule; when two branches contend for the same target in
// one pass, the lower priority binds.
type PocketRef struct {
	Codename string
	Pocket   string
	Priority int
}

// Rule maps branch name patterns to a pocket. Codename is the series
// the rule belongs to; an empty Codename makes the rule a wildcard
// that applies to every configured codename.
type Rule struct {
	Codename string
	Pocket   string
	Patterns []string
}

// RuleSet evaluates ordered pocket rules against branch names. Within
// a codename the first matching rule wins; distinct codenames bind
// independently. Evaluation order is fixed by the configured codename
// and rule order, never by map iteration.
type RuleSet struct {
	codenames []string
	rules     []Rule
}

// NewRuleSet validates rule patterns and codename references up front
// so a bad configuration fails before any work is dispatched.
func NewRuleSet(codenames []string, rules []Rule) (*RuleSet, error) {
	if len(codenames) == 0 {
		return nil, fmt.Errorf("no codenames configured")
	}

	known := make(map[string]bool, len(codenames))
	for _, c := range codenames {
		if c == "" {
			return nil, fmt.Errorf("empty codename")
		}
		if known[c] {
			return nil, fmt.Errorf("duplicate codename %q", c)
		}
		known[c] = true
	}

	for _, r := range rules {
		if r.Pocket == "" {
			return nil, fmt.Errorf("rule without pocket in codename %q", r.Codename)
		}
		if r.Codename != "" && !known[r.Codename] {
			return nil, fmt.Errorf("rule for pocket %q references unknown codename %q", r.Pocket, r.Codename)
		}
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("pocket %q has no branch patterns", r.Pocket)
		}
		for _, p := range r.Patterns {
			if _, err := path.Match(p, "probe"); err != nil {
				return nil, fmt.Errorf("pocket %q: invalid pattern %q: %w", r.Pocket, p, err)
			}
		}
	}

	return &RuleSet{codenames: codenames, rules: rules}, nil
}

// Codenames returns the configured codename order.
func (rs *RuleSet) Codenames() []string {
	return rs.codenames
}

// Match returns the pockets the branch binds to, at most one per
// codename. An unmatched branch returns nil; that is not an error.
func (rs *RuleSet) Match(branch string) []PocketRef {
	var refs []PocketRef
	for _, codename := range rs.codenames {
		for _, r := range rs.rules {
			if r.Codename != "" && r.Codename != codename {
				continue
			}
			if i := matchIndex(r.Patterns, branch); i >= 0 {
				refs = append(refs, PocketRef{Codename: codename, Pocket: r.Pocket, Priority: i})
				break
			}
		}
	}
	return refs
}

func matchIndex(patterns []string, branch string) int {
	for i, p := range patterns {
		// Patterns are validated at construction; Match cannot fail here.
		if ok, _ := path.Match(p, branch); ok {
			return i
		}
	}
	return -1
}
