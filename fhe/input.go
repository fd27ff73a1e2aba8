package fhe

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/sealedvwap/core"
)

// inputPayload is the plaintext structure inside an EncryptedInput.
type inputPayload struct {
	Value uint64 `json:"value"`
}

// EncryptInput encrypts value to the capability's public key for use in the given context.
// This runs client-side: bidders call it to encrypt their price before submitting a bid.
func EncryptInput(publicKey *rsa.PublicKey, value uint64, ic InputContext) (*EncryptedInput, InputProof, error) {
	plaintext, err := json.Marshal(inputPayload{Value: value})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal input payload: %w", err)
	}

	result, err := EncryptHybrid(plaintext, core.ComputeInputAAD(ic.AuctionID, ic.Caller), publicKey, HashAlgorithmSHA256)
	if err != nil {
		return nil, "", err
	}

	input := &EncryptedInput{
		AESKeyEncrypted:  result.EncryptedAESKey,
		EncryptedPayload: result.EncryptedPayload,
		Nonce:            result.Nonce,
		HashAlgorithm:    string(HashAlgorithmSHA256),
	}
	proof := InputProof(core.ComputeInputBindingHash(ic.AuctionID, ic.Caller, input.EncryptedPayload))
	return input, proof, nil
}
