package core

import (
	"crypto/sha256"
	"fmt"
)

// ComputeInputBindingHash computes the binding proof for an encrypted bid input.
// This is used by bidders (to produce the proof) and by the compute capability (to verify it).
//
// Formula: SHA256(auction_id + "|" + caller + "|" + encrypted_payload)
//
// The hash ties a ciphertext to one auction and one submitting account, so an encrypted
// price copied from another bidder or another auction is rejected at import.
func ComputeInputBindingHash(auctionID uint64, caller string, encryptedPayload string) string {
	data := fmt.Sprintf("%d|%s|%s", auctionID, caller, encryptedPayload)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeInputAAD returns the additional authenticated data bound into the AES-GCM layer
// of an encrypted input.
//
// Formula: "sealedvwap-input|" + auction_id + "|" + caller
func ComputeInputAAD(auctionID uint64, caller string) []byte {
	return []byte(fmt.Sprintf("sealedvwap-input|%d|%s", auctionID, caller))
}

// ComputeCiphertextDigest computes the digest the decryption oracle signs alongside a plaintext,
// binding a published value to the exact ciphertext it was decrypted from.
//
// Formula: SHA256(handle + "|" + nonce + "|" + sealed)
func ComputeCiphertextDigest(handle string, nonce, sealed []byte) string {
	data := fmt.Sprintf("%s|%x|%x", handle, nonce, sealed)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
