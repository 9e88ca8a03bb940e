// Package catalog holds the detectable application model and the loaders
// that turn on-disk catalog files into it.
package catalog

import (
	"encoding/json"
	"strings"
)

// StrictSentinel marks a catalog executable name that must match the
// innermost path variation exactly.
const StrictSentinel = '>'

// ExecutableRule is one way a process can be recognised as a game.
type ExecutableRule struct {
	Pattern string `json:"pattern" cbor:"1,keyasint"`
	Strict  bool   `json:"strict,omitempty" cbor:"2,keyasint,omitempty"`
	// RequiredArg must be present in the process arguments when set.
	RequiredArg string `json:"arguments,omitempty" cbor:"3,keyasint,omitempty"`
}

// DetectableGame is an immutable catalog entry.
type DetectableGame struct {
	ID          string           `json:"id" cbor:"1,keyasint"`
	Name        string           `json:"name" cbor:"2,keyasint"`
	Executables []ExecutableRule `json:"executables" cbor:"3,keyasint"`
}

// Source supplies the full list of known applications.
type Source interface {
	Load() ([]DetectableGame, error)
}

// StaticSource serves a fixed catalog. Used by tests and the mock mode.
type StaticSource []DetectableGame

func (s StaticSource) Load() ([]DetectableGame, error) {
	return []DetectableGame(s), nil
}

// ParseRule converts a raw catalog executable name into a rule. Patterns
// are lowercased and forward-slashed so they compare against generated
// path variations directly.
func ParseRule(name, arguments string) ExecutableRule {
	rule := ExecutableRule{RequiredArg: arguments}
	if name != "" && name[0] == StrictSentinel {
		rule.Strict = true
		name = name[1:]
	}
	rule.Pattern = strings.ReplaceAll(strings.ToLower(name), `\`, "/")
	return rule
}

// String renders the rule the way it appears in the upstream catalog.
func (r ExecutableRule) String() string {
	if r.Strict {
		return string(StrictSentinel) + r.Pattern
	}
	return r.Pattern
}

// JSON returns the entry serialized for log context. Never fails.
func (g DetectableGame) JSON() string {
	data, err := json.Marshal(g)
	if err != nil {
		return g.ID
	}
	return string(data)
}
