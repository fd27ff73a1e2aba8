package validation

import (
	"fmt"
)

// ClearingValidationInput is the public reveal record of one auction.
type ClearingValidationInput struct {
	Proof            []byte // COSE_Sign1 from the oracle
	RequestID        string // decryption request the auction recorded
	CiphertextDigest string // digest of the auction's encrypted VWAP
	ClearingPrice    uint64 // published clearing price
}

// ValidateClearingPrice lets an auditor check a published clearing price: the proof must be
// signed by the oracle key behind verifier, and bind the claimed price to the auction's
// decryption request and encrypted VWAP.
//
// Returns:
//   - ClearingValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed
func ValidateClearingPrice(verifier *DecryptionVerifier, input *ClearingValidationInput) (*ClearingValidationResult, error) {
	if verifier == nil || input == nil {
		return nil, fmt.Errorf("verifier and input are required")
	}

	result := &ClearingValidationResult{ValidationDetails: []string{}}

	signed, err := verifier.Verify(input.Proof)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Proof verification failed: %v", err))
		return result, nil
	}
	result.SignatureValid = true
	result.ValidationDetails = append(result.ValidationDetails, "Oracle signature verified")

	result.RequestIDValid = signed.RequestID == input.RequestID
	if result.RequestIDValid {
		result.ValidationDetails = append(result.ValidationDetails, "Request id matches")
	} else {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Request id mismatch: signed %s, recorded %s", signed.RequestID, input.RequestID))
	}

	result.DigestValid = signed.CiphertextDigest == input.CiphertextDigest
	if result.DigestValid {
		result.ValidationDetails = append(result.ValidationDetails, "Ciphertext digest matches encrypted VWAP")
	} else {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Ciphertext digest mismatch: signed %s, recorded %s", signed.CiphertextDigest, input.CiphertextDigest))
	}

	result.ClearingPriceValid = signed.Plaintext == input.ClearingPrice
	if result.ClearingPriceValid {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Clearing price %d matches", input.ClearingPrice))
	} else {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Clearing price mismatch: signed %d, published %d", signed.Plaintext, input.ClearingPrice))
	}

	return result, nil
}
