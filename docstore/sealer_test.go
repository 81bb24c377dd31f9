package docstore

import (
	"crypto/elliptic"
	"testing"

	"github.com/datatrails/go-datatrails-common/azkeys"
	dtcose "github.com/datatrails/go-datatrails-common/cose"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phucvin/fleece"
)

func TestSealerSign1(t *testing.T) {

	logger.New("TEST")

	type fields struct {
		issuer string
		curve  elliptic.Curve
	}
	type args struct {
		subject  string
		external []byte
	}
	tests := []struct {
		name    string
		fields  fields
		args    args
		wantErr bool
	}{
		{
			name: "common case P-256 & ES256",
			fields: fields{
				issuer: "synsation.org",
				curve:  elliptic.P256(),
			},
			args: args{
				subject: "fleecedoc-sealer",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			data, err := fleece.Encode(map[string]any{"v": 1})
			require.NoError(t, err)

			state := DocState{
				Length:     uint64(len(data)),
				RootDigest: DocStateDigest(data),
				Timestamp:  1234,
				DocID:      NewDocID(),
			}

			key := TestGenerateECKey(t, tt.fields.curve)
			sealer := TestNewSealer(t, tt.fields.issuer)

			coseSigner := azkeys.NewTestCoseSigner(t, key)
			pubKey, err := coseSigner.PublicKey()
			require.NoError(t, err)

			coseMsg, err := sealer.Sign1(coseSigner, coseSigner.KeyIdentifier(), pubKey, tt.args.subject, state, tt.args.external)
			if (err != nil) != tt.wantErr {
				t.Errorf("Sealer.Sign1() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			signed, unverified, err := DecodeSealedDoc(sealer.cborCodec, coseMsg)
			assert.NoError(t, err)

			err = VerifySealedDoc(
				sealer.cborCodec,
				dtcose.NewCWTPublicKeyProvider(signed),
				signed, unverified, tt.args.external,
			)
			// verification must fail until the digest is recomputed from the
			// blob bytes
			assert.Error(t, err)

			unverified.RootDigest = DocStateDigest(data)
			err = VerifySealedDoc(
				sealer.cborCodec,
				dtcose.NewCWTPublicKeyProvider(signed),
				signed, unverified, tt.args.external,
			)
			assert.NoError(t, err)
		})
	}
}
