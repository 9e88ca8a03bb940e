// Package detect matches running executables against the detectable
// catalog: it expands process paths into comparison keys, indexes catalog
// patterns for constant-time candidate lookup, and evaluates rules.
package detect

import (
	"github.com/presence-relay/relay/internal/catalog"
)

// Index maps a literal executable pattern to the games declaring it. It is
// built once per catalog load and is read-only afterwards.
type Index struct {
	games   []catalog.DetectableGame
	buckets map[string][]*catalog.DetectableGame
}

func NewIndex(games []catalog.DetectableGame) *Index {
	ix := &Index{
		games:   games,
		buckets: make(map[string][]*catalog.DetectableGame),
	}
	for i := range ix.games {
		g := &ix.games[i]
		for _, rule := range g.Executables {
			bucket := ix.buckets[rule.Pattern]
			if len(bucket) > 0 && bucket[len(bucket)-1] == g {
				continue
			}
			ix.buckets[rule.Pattern] = append(bucket, g)
		}
	}
	return ix
}

// Lookup returns the games that declare key as one of their patterns.
func (ix *Index) Lookup(key string) []*catalog.DetectableGame {
	return ix.buckets[key]
}

// Candidates gathers the deduplicated games reachable from any of the
// given variations, in first-seen order.
func (ix *Index) Candidates(variations []string) []*catalog.DetectableGame {
	var out []*catalog.DetectableGame
	var seen map[*catalog.DetectableGame]struct{}
	for _, v := range variations {
		for _, g := range ix.buckets[v] {
			if seen == nil {
				seen = make(map[*catalog.DetectableGame]struct{})
			}
			if _, dup := seen[g]; dup {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

// Keys reports the number of distinct patterns indexed.
func (ix *Index) Keys() int { return len(ix.buckets) }

// Games reports the number of catalog entries behind the index.
func (ix *Index) Games() int { return len(ix.games) }
