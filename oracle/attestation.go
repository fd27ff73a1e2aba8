package oracle

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/sealedvwap/oracleapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// NitroAttester returns the NSM attester, or an error outside a Nitro enclave.
func NitroAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// generateSecureRandomBytes generates cryptographically secure random bytes
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32) // 256 bits of entropy
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// GenerateKeyAttestation attests the oracle's result-signing key: the PEM key is embedded
// in the user data of an NSM attestation so verifiers can tie it to the enclave's PCRs.
func GenerateKeyAttestation(attester EnclaveAttester, publicKeyPEM string) (oracleapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userDataBytes, err := json.Marshal(&oracleapi.KeyAttestationUserData{
		KeyAlgorithm: oracleapi.SigningKeyAlgorithm,
		PublicKey:    publicKeyPEM,
		Purpose:      oracleapi.DecryptionKeyPurpose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}

	return oracleapi.AttestationCOSE(attestationCBOR), nil
}
