package validation

import (
	"fmt"
	"strings"

	"github.com/cloudx-io/sealedvwap/oracleapi"
)

// ValidateOracleKeyAttestation validates the attestation of an oracle's result-signing key
//
// Parameters:
//   - attestationCOSEBase64: Base64-encoded COSE_Sign1 bytes from KeyResponse.AttestationCOSEBase64
//   - expectedPublicKey: PEM-encoded key to validate (from KeyResponse.PublicKey)
//   - policy: known PCR sets and trust roots
//
// Returns:
//   - KeyValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input)
func ValidateOracleKeyAttestation(attestationCOSEBase64 oracleapi.AttestationCOSEBase64, expectedPublicKey string, policy AttestationPolicy) (*KeyValidationResult, error) {
	baseResult, err := validateCommonAttestation(attestationCOSEBase64, policy)
	if err != nil {
		return nil, err
	}

	coseBytes, err := attestationCOSEBase64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}
	keyAttestation, err := coseBytes.ParseKeyAttestation()
	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation from attestation_cose_base64: %w", err)
	}

	result := &KeyValidationResult{
		BaseValidationResult: *baseResult,
	}

	if keyAttestation.UserData == nil || keyAttestation.UserData.PublicKey == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Public key missing from attestation")
		return result, nil
	}

	// Trim whitespace from both keys (handles trailing newlines from PEM encoding)
	if strings.TrimSpace(expectedPublicKey) == strings.TrimSpace(keyAttestation.UserData.PublicKey) {
		result.PublicKeyMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Public key matches attestation")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Public key mismatch: provided key does not match attested key")
	}

	if keyAttestation.UserData.Purpose == oracleapi.DecryptionKeyPurpose &&
		keyAttestation.UserData.KeyAlgorithm == oracleapi.SigningKeyAlgorithm {
		result.PurposeValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Key attested for decryption result signing")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Unexpected key purpose %q (%s)",
			keyAttestation.UserData.Purpose, keyAttestation.UserData.KeyAlgorithm))
	}

	return result, nil
}
