package detect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/presence-relay/relay/internal/catalog"
)

// ArgPolicy decides how a rule's required argument is located in argv.
type ArgPolicy int

const (
	// ArgElement requires the argument to equal one argv element.
	ArgElement ArgPolicy = iota
	// ArgSubstring requires the argument to appear anywhere in the
	// space-joined argv.
	ArgSubstring
)

func ParseArgPolicy(s string) (ArgPolicy, error) {
	switch s {
	case "", "element":
		return ArgElement, nil
	case "substring":
		return ArgSubstring, nil
	default:
		return ArgElement, fmt.Errorf("unknown argument match policy %q", s)
	}
}

func (p ArgPolicy) String() string {
	if p == ArgSubstring {
		return "substring"
	}
	return "element"
}

// Matcher evaluates catalog rules against a single process.
type Matcher struct {
	Args ArgPolicy
}

// MatchGame reports whether any executable rule of g matches.
func (m Matcher) MatchGame(g *catalog.DetectableGame, variations, argv []string, cwd string) bool {
	for _, rule := range g.Executables {
		if m.MatchRule(rule, variations, argv, cwd) {
			return true
		}
	}
	return false
}

// MatchRule reports whether rule matches a process whose path expanded to
// variations. cwd may be empty when unknown.
func (m Matcher) MatchRule(rule catalog.ExecutableRule, variations, argv []string, cwd string) bool {
	if rule.RequiredArg != "" && !m.argsContain(argv, rule.RequiredArg) {
		return false
	}
	if len(variations) == 0 {
		return false
	}

	if rule.Strict {
		return variations[0] == rule.Pattern
	}

	if slices.Contains(variations, rule.Pattern) {
		return true
	}
	if cwd == "" {
		return false
	}

	dir := strings.TrimRight(strings.ReplaceAll(strings.ToLower(cwd), `\`, "/"), "/")
	needle := "/" + rule.Pattern
	for _, v := range variations {
		if strings.Contains(dir+"/"+v, needle) {
			return true
		}
	}
	return false
}

func (m Matcher) argsContain(argv []string, want string) bool {
	if m.Args == ArgSubstring {
		return strings.Contains(strings.Join(argv, " "), want)
	}
	return slices.Contains(argv, want)
}
