package validation

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedvwap/oracle"
	"github.com/cloudx-io/sealedvwap/oracleapi"
)

// splice returns sig's COSE array with payload's payload element.
func splice(t *testing.T, sig, payload []byte) []byte {
	t.Helper()
	var a, b []any
	assert.NoError(t, cbor.Unmarshal(sig, &a))
	assert.NoError(t, cbor.Unmarshal(payload, &b))
	a[2] = b[2]
	out, err := cbor.Marshal(a)
	assert.NoError(t, err)
	return out
}

func TestDecryptionVerifier_Verify(t *testing.T) {
	signer, err := oracle.NewSigner()
	assert.NoError(t, err)
	verifier, err := NewDecryptionVerifier(signer.PublicKey())
	assert.NoError(t, err)

	want := oracleapi.DecryptionResult{RequestID: "req-1", CiphertextDigest: "d1", Plaintext: 98, Timestamp: 1}
	proof, err := signer.Sign(want)
	assert.NoError(t, err)

	got, err := verifier.Verify(proof)
	assert.NoError(t, err)
	check.Equal(t, want, *got)
}

func TestDecryptionVerifier_FromPEM(t *testing.T) {
	signer, err := oracle.NewSigner()
	assert.NoError(t, err)
	publicKeyPEM, err := signer.PublicKeyPEM()
	assert.NoError(t, err)

	verifier, err := NewDecryptionVerifierFromPEM(publicKeyPEM)
	assert.NoError(t, err)

	proof, err := signer.Sign(oracleapi.DecryptionResult{RequestID: "r", CiphertextDigest: "d", Plaintext: 1})
	assert.NoError(t, err)
	_, err = verifier.Verify(proof)
	check.NoError(t, err)

	_, err = NewDecryptionVerifierFromPEM("garbage")
	check.Error(t, err)
}

func TestDecryptionVerifier_Rejects(t *testing.T) {
	signer, err := oracle.NewSigner()
	assert.NoError(t, err)
	impostor, err := oracle.NewSigner()
	assert.NoError(t, err)
	verifier, err := NewDecryptionVerifier(signer.PublicKey())
	assert.NoError(t, err)

	result := oracleapi.DecryptionResult{RequestID: "req-1", CiphertextDigest: "d1", Plaintext: 98}

	forged, err := impostor.Sign(result)
	assert.NoError(t, err)

	genuine, err := signer.Sign(result)
	assert.NoError(t, err)
	other, err := signer.Sign(oracleapi.DecryptionResult{RequestID: "req-1", CiphertextDigest: "d1", Plaintext: 1})
	assert.NoError(t, err)

	tests := []struct {
		name  string
		proof []byte
	}{
		{"wrong key", forged},
		{"swapped payload", splice(t, genuine, other)},
		{"garbage", []byte{0x01, 0x02}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.proof)
			check.True(t, errors.Is(err, ErrInvalidProof))
		})
	}
}

func TestValidateClearingPrice(t *testing.T) {
	signer, err := oracle.NewSigner()
	assert.NoError(t, err)
	verifier, err := NewDecryptionVerifier(signer.PublicKey())
	assert.NoError(t, err)

	proof, err := signer.Sign(oracleapi.DecryptionResult{RequestID: "req-7", CiphertextDigest: "digest", Plaintext: 98})
	assert.NoError(t, err)

	valid := ClearingValidationInput{Proof: proof, RequestID: "req-7", CiphertextDigest: "digest", ClearingPrice: 98}

	result, err := ValidateClearingPrice(verifier, &valid)
	assert.NoError(t, err)
	check.True(t, result.IsValid())

	wrongPrice := valid
	wrongPrice.ClearingPrice = 99
	result, err = ValidateClearingPrice(verifier, &wrongPrice)
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.False(t, result.ClearingPriceValid)
	check.False(t, result.IsValid())

	wrongDigest := valid
	wrongDigest.CiphertextDigest = "other"
	result, err = ValidateClearingPrice(verifier, &wrongDigest)
	assert.NoError(t, err)
	check.False(t, result.DigestValid)

	wrongRequest := valid
	wrongRequest.RequestID = "req-8"
	result, err = ValidateClearingPrice(verifier, &wrongRequest)
	assert.NoError(t, err)
	check.False(t, result.RequestIDValid)

	_, err = ValidateClearingPrice(nil, &valid)
	check.Error(t, err)
}
