package rtlog

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// cborEnc encodes record values and metadata maps with Core Deterministic
// Encoding (RFC 8949 §4.2) so the same logical data always produces
// identical bytes, which keeps encoded logs reproducible.
var cborEnc cbor.EncMode

// cborDec decodes standard CBOR. Map values with an any-typed target decode
// as map[string]any rather than the CBOR default map[any]any, since field
// record values and metadata are string-keyed by contract.
var cborDec cbor.DecMode

func init() {
	var err error

	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rtlog: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("rtlog: CBOR decoder initialization failed: " + err.Error())
	}
}
