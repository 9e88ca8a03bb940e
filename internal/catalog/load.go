package catalog

import (
	"encoding/json"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/jsonc"
)

// PackedExt is the file suffix of catalogs produced by Pack.
const PackedExt = ".cbor.zst"

// RawExecutable mirrors one executables[] entry of the upstream
// detectable applications listing.
type RawExecutable struct {
	Name       string `json:"name"`
	OS         string `json:"os"`
	Arguments  string `json:"arguments"`
	IsLauncher bool   `json:"is_launcher"`
}

// RawGame mirrors one entry of the upstream listing. Fields the relay
// does not use (hooks, overlay flags, aliases) are ignored on decode.
type RawGame struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Executables []RawExecutable `json:"executables"`
}

// FileSource loads a catalog from disk. Files ending in PackedExt are read
// with Unpack; anything else is treated as JSON (comments and trailing
// commas allowed).
type FileSource struct {
	Path string
	// GOOS filters platform-specific executables. Empty means runtime.GOOS.
	GOOS string
}

func (s FileSource) Load() ([]DetectableGame, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open catalog")
	}
	defer f.Close()

	if strings.HasSuffix(s.Path, PackedExt) {
		games, err := Unpack(f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to unpack catalog %s", s.Path)
		}
		return games, nil
	}

	games, err := DecodeJSON(f, s.goos())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode catalog %s", s.Path)
	}
	return games, nil
}

func (s FileSource) goos() string {
	if s.GOOS != "" {
		return s.GOOS
	}
	return runtime.GOOS
}

// DecodeJSON reads an upstream-format listing and transforms it.
func DecodeJSON(r io.Reader, goos string) ([]DetectableGame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read catalog")
	}

	var raw []RawGame
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse catalog JSON")
	}
	return Transform(raw, goos), nil
}

// Transform converts upstream entries into DetectableGames. Executables
// without a name are dropped, as are darwin-only executables on other
// platforms. Games left with no executables are dropped entirely.
func Transform(raw []RawGame, goos string) []DetectableGame {
	games := make([]DetectableGame, 0, len(raw))
	for _, rg := range raw {
		if rg.ID == "" {
			continue
		}
		g := DetectableGame{ID: rg.ID, Name: rg.Name}
		for _, re := range rg.Executables {
			if re.Name == "" {
				continue
			}
			if re.OS == "darwin" && goos != "darwin" {
				continue
			}
			g.Executables = append(g.Executables, ParseRule(re.Name, re.Arguments))
		}
		if len(g.Executables) == 0 {
			continue
		}
		games = append(games, g)
	}
	return games
}
