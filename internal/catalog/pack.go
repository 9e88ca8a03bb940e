package catalog

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// packFormatVersion is written into every packed catalog. Bump it when the
// CBOR field numbering of DetectableGame or ExecutableRule changes.
const packFormatVersion = 1

type packedCatalog struct {
	Version int              `cbor:"1,keyasint"`
	Games   []DetectableGame `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("catalog: CBOR encoder initialization failed: " + err.Error())
	}
}

// Pack writes games as zstd-compressed deterministic CBOR.
func Pack(w io.Writer, games []DetectableGame) error {
	data, err := encMode.Marshal(packedCatalog{Version: packFormatVersion, Games: games})
	if err != nil {
		return errors.Wrap(err, "failed to encode catalog")
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return errors.Wrap(err, "failed to create zstd writer")
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return errors.Wrap(err, "failed to compress catalog")
	}
	return errors.Wrap(zw.Close(), "failed to flush catalog")
}

// Unpack reverses Pack.
func Unpack(r io.Reader) ([]DetectableGame, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd reader")
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress catalog")
	}

	var packed packedCatalog
	if err := cbor.Unmarshal(data, &packed); err != nil {
		return nil, errors.Wrap(err, "failed to decode catalog")
	}
	if packed.Version != packFormatVersion {
		return nil, fmt.Errorf("unsupported packed catalog version %d", packed.Version)
	}
	return packed.Games, nil
}
