package docstore

import (
	"crypto"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/veraison/go-cose"
)

type publicKeyProvider interface {
	PublicKey() (crypto.PublicKey, cose.Algorithm, error)
}

// DecodeSealedDoc decodes the DocState values from the signed message. The
// state will not verify as published: the digest was detached after signing
// and must be recomputed from the blob. See VerifySealedDoc.
func DecodeSealedDoc(
	codec dtcbor.CBORCodec, msg []byte,
) (*dtcose.CoseSign1Message, DocState, error) {
	signed, err := dtcose.NewCoseSign1MessageFromCBOR(msg, newSealDecOptions()...)
	if err != nil {
		return nil, DocState{}, err
	}

	var unverifiedState DocState
	err = codec.UnmarshalInto(signed.Payload, &unverifiedState)
	if err != nil {
		return nil, DocState{}, err
	}
	return signed, unverifiedState, nil
}

// VerifySealedDoc applies the provided state to the signed message and
// verifies the result.
//
// Verification is a 3 step process:
//  1. Use DecodeSealedDoc to obtain the DocState from the signed message.
//  2. Read the blob, truncate it to DocState.Length, and recompute the
//     digest with DocStateDigest.
//  3. Update the DocState with the recomputed digest and call this function
//     to complete the verification.
func VerifySealedDoc(
	codec dtcbor.CBORCodec, keyProvider publicKeyProvider,
	signed *dtcose.CoseSign1Message, unverifiedState DocState, external []byte) error {

	var err error
	signed.Payload, err = codec.MarshalCBOR(unverifiedState)
	if err != nil {
		return err
	}
	return signed.VerifyWithProvider(keyProvider, external)
}
