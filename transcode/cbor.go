// Package transcode bridges fleece documents to and from CBOR for
// interchange with systems that do not speak the zero-parse format.
package transcode

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/phucvin/fleece"
)

var (
	ErrNonStringKey   = errors.New("transcode: cbor map key is not a string")
	ErrUnsupportedTag = errors.New("transcode: cbor tag has no fleece representation")
)

// FromCBOR decodes a CBOR item and re-encodes it as a complete fleece
// document. Map keys must be strings.
func FromCBOR(data []byte) ([]byte, error) {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return fleece.Encode(n)
}

// ToCBOR reads a fleece document and emits its root as canonical CBOR.
func ToCBOR(doc []byte) ([]byte, error) {
	v, err := fleece.Root(doc)
	if err != nil {
		return nil, err
	}
	native, err := v.Native()
	if err != nil {
		return nil, err
	}
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(native)
}

// normalize rewrites the decoder's generic shapes into the value kinds the
// fleece encoder accepts.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrNonStringKey, k)
			}
			n, err := normalize(el)
			if err != nil {
				return nil, err
			}
			out[ks] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			n, err := normalize(el)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			n, err := normalize(el)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case cbor.Tag:
		return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedTag, x.Number)
	default:
		return v, nil
	}
}
