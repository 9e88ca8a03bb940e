package detect

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of raw paths whose variations are
// remembered between scans.
const DefaultCacheSize = 1000

// bitnessModifiers are stripped (first occurrence only) to produce extra
// variations, so "game_x64.exe" can also match a catalog "game.exe".
var bitnessModifiers = []string{"64", ".x64", "x64", "_64"}

// Variations expands a raw executable path into its comparison keys.
//
// The path is lowercased and forward-slashed, a leading drive letter or
// empty root segment is dropped, and every trailing suffix is emitted from
// the innermost segment outwards. Each suffix containing a bitness
// modifier is followed by its stripped sibling(s). The first element is
// always the innermost segment.
func Variations(raw string) []string {
	normalized := strings.ReplaceAll(strings.ToLower(raw), `\`, "/")
	segments := strings.Split(normalized, "/")
	if len(segments) > 0 && (segments[0] == "" || isDriveLetter(segments[0])) {
		segments = segments[1:]
	}

	variations := make([]string, 0, len(segments)*2)
	for i := 1; i <= len(segments); i++ {
		candidate := strings.Join(segments[len(segments)-i:], "/")
		if candidate == "" {
			continue
		}
		variations = append(variations, candidate)
		for _, mod := range bitnessModifiers {
			if strings.Contains(candidate, mod) {
				variations = append(variations, strings.Replace(candidate, mod, "", 1))
			}
		}
	}
	return variations
}

func isDriveLetter(s string) bool {
	return len(s) == 2 && s[1] == ':' && s[0] >= 'a' && s[0] <= 'z'
}

// PathCache memoizes Variations keyed by the raw path. It is owned by a
// single scan worker and is not safe for concurrent mutation beyond what
// the underlying LRU guarantees.
type PathCache struct {
	cache *lru.Cache[string, []string]
}

// NewPathCache returns a cache holding at most size paths. A size of zero
// or less disables caching.
func NewPathCache(size int) *PathCache {
	if size <= 0 {
		return &PathCache{}
	}
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return &PathCache{}
	}
	return &PathCache{cache: cache}
}

// Variations returns the cached expansion of raw, computing it on a miss.
// The returned slice is shared; callers must not modify it.
func (c *PathCache) Variations(raw string) []string {
	if c.cache == nil {
		return Variations(raw)
	}
	if v, ok := c.cache.Get(raw); ok {
		return v
	}
	v := Variations(raw)
	c.cache.Add(raw, v)
	return v
}

func (c *PathCache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
