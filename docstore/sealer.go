package docstore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/veraison/go-cose"
)

// DocState defines the details included in a signed commitment to a
// document blob's state. Because the blob is append-only, any later state
// whose Length is greater can still reproduce this digest by truncating,
// so old seals remain checkable.
type DocState struct {
	// Length is the byte length of the blob at sealing time.
	Length uint64 `cbor:"1,keyasint"`
	// RootDigest is the SHA-256 of the first Length bytes of the blob.
	RootDigest []byte `cbor:"2,keyasint"`
	// Timestamp is the unix time (milliseconds) read when the seal was
	// produced. Including it allows the same state to be re-sealed.
	Timestamp int64 `cbor:"3,keyasint"`
	// DocID binds the seal to the document identity.
	DocID string `cbor:"4,keyasint"`
}

// DocStateDigest computes the digest a DocState commits to.
func DocStateDigest(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// Sealer produces a signature over a document blob state. The signature
// should only be published after the caller has checked the new state is an
// append-only extension of the previously sealed one.
type Sealer struct {
	issuer    string
	cborCodec dtcbor.CBORCodec
}

func NewSealer(issuer string, cborCodec dtcbor.CBORCodec) Sealer {
	return Sealer{
		issuer:    issuer,
		cborCodec: cborCodec,
	}
}

// Sign1 signs the provided state. The digest is detached from the published
// message so that verifiers are forced to recompute it from the blob.
func (s Sealer) Sign1(coseSigner cose.Signer, keyIdentifier string, publicKey *ecdsa.PublicKey, subject string, state DocState, external []byte) ([]byte, error) {
	payload, err := s.cborCodec.MarshalCBOR(state)
	if err != nil {
		return nil, err
	}

	coseHeaders := cose.Headers{
		Protected: cose.ProtectedHeader{
			dtcose.HeaderLabelCWTClaims: dtcose.NewCNFClaim(
				s.issuer, subject, keyIdentifier, coseSigner.Algorithm(), *publicKey),
		},
	}

	msg := cose.Sign1Message{
		Headers: coseHeaders,
		Payload: payload,
	}
	err = msg.Sign(rand.Reader, external, coseSigner)
	if err != nil {
		return nil, err
	}

	state.RootDigest = nil
	payload, err = s.cborCodec.MarshalCBOR(state)
	if err != nil {
		return nil, err
	}
	msg.Payload = payload

	return msg.MarshalCBOR()
}

func NewSealerCodec() (dtcbor.CBORCodec, error) {
	codec, err := dtcbor.NewCBORCodec(
		dtcbor.NewDeterministicEncOpts(),
		dtcbor.NewDeterministicDecOpts(), // unsigned int decodes to uint64
	)
	if err != nil {
		return dtcbor.CBORCodec{}, err
	}
	return codec, nil
}

func newSealDecOptions() []dtcose.SignOption {
	return []dtcose.SignOption{dtcose.WithDecOptions(dtcbor.NewDeterministicDecOpts())}
}
