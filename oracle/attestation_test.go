package oracle

import (
	"encoding/json"
	"fmt"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedvwap/oracleapi"
)

func TestGenerateNonce(t *testing.T) {
	nonce1, err := generateNonce()
	check.NoError(t, err)
	nonce2, err := generateNonce()
	check.NoError(t, err)

	// 32 bytes = 64 hex characters
	check.Equal(t, 64, len(nonce1))
	check.NotEqual(t, nonce1, nonce2)
}

func TestGenerateKeyAttestation(t *testing.T) {
	var captured enclave.AttestationOptions
	mock := CreateMockEnclave(t)
	inner := mock.AttestFunc
	mock.AttestFunc = func(options enclave.AttestationOptions) ([]byte, error) {
		captured = options
		return inner(options)
	}

	att, err := GenerateKeyAttestation(mock, "PEM")
	assert.NoError(t, err)

	var userData oracleapi.KeyAttestationUserData
	assert.NoError(t, json.Unmarshal(captured.UserData, &userData))
	check.Equal(t, "PEM", userData.PublicKey)
	check.Equal(t, oracleapi.SigningKeyAlgorithm, userData.KeyAlgorithm)
	check.Equal(t, oracleapi.DecryptionKeyPurpose, userData.Purpose)
	check.Equal(t, 64, len(captured.Nonce))

	doc, err := att.ParseKeyAttestation()
	assert.NoError(t, err)
	check.Equal(t, "test-oracle-12345", doc.ModuleID)
	check.Equal(t, "PEM", doc.UserData.PublicKey)
}

func TestGenerateKeyAttestation_Errors(t *testing.T) {
	_, err := GenerateKeyAttestation(nil, "PEM")
	check.Error(t, err)

	failing := &MockEnclaveHandle{AttestFunc: func(enclave.AttestationOptions) ([]byte, error) {
		return nil, fmt.Errorf("nsm unavailable")
	}}
	_, err = GenerateKeyAttestation(failing, "PEM")
	check.Error(t, err)
}
