// Package fhe defines the confidential compute capability the auction engine aggregates
// encrypted prices with, and ships a sealed reference backend.
//
// The engine only ever sees *Ciphertext handles. Values leave encrypted form through exactly
// one path: a decryption request answered by an authenticated oracle.
package fhe

import (
	"context"
	"errors"
)

var (
	// ErrInvalidInput is returned when an encrypted input fails verification or import.
	ErrInvalidInput = errors.New("invalid encrypted input")

	// ErrOverflow is returned when an encrypted operation would leave the 64-bit domain.
	ErrOverflow = errors.New("encrypted value overflow")

	// ErrDivideByZero is returned by DivPlain with a zero divisor.
	ErrDivideByZero = errors.New("encrypted division by zero")

	// ErrForeignCiphertext is returned for a ciphertext not issued by this capability.
	ErrForeignCiphertext = errors.New("ciphertext not issued by this capability")
)

// InputContext is the auction/caller pair an encrypted input is bound to.
type InputContext struct {
	AuctionID uint64 `json:"auction_id"`
	Caller    string `json:"caller"`
}

// EncryptedInput is a client-side encrypted plaintext, produced by EncryptInput.
type EncryptedInput struct {
	AESKeyEncrypted  string `json:"aes_key_encrypted"`        // base64-encoded RSA-OAEP encrypted AES key
	EncryptedPayload string `json:"encrypted_payload"`        // base64-encoded AES-GCM encrypted {"value": X}
	Nonce            string `json:"nonce"`                    // base64-encoded GCM nonce (12 bytes)
	HashAlgorithm    string `json:"hash_algorithm,omitempty"` // Optional: "SHA-256" (default) or "SHA-1" for RSA-OAEP
}

// InputProof binds an EncryptedInput to its InputContext (hex SHA-256, see core.ComputeInputBindingHash).
type InputProof string

// Capability is the confidential compute capability the engine depends on.
// Implementations must never expose plaintext through these methods.
type Capability interface {
	// VerifyAndImport checks that in is well formed and bound to ic, and imports it as a ciphertext.
	VerifyAndImport(ctx context.Context, in *EncryptedInput, proof InputProof, ic InputContext) (*Ciphertext, error)

	// Add returns an encryption of a+b.
	Add(a, b *Ciphertext) (*Ciphertext, error)

	// MulPlain returns an encryption of a×k.
	MulPlain(a *Ciphertext, k uint64) (*Ciphertext, error)

	// DivPlain returns an encryption of floor(a/k). It decrypts to exactly the plaintext floor division.
	DivPlain(a *Ciphertext, k uint64) (*Ciphertext, error)
}

// Decrypter turns a ciphertext back into plaintext. Only the decryption oracle holds one.
type Decrypter interface {
	Decrypt(ct *Ciphertext) (uint64, error)
}

// DecryptionRequester submits an asynchronous decryption request. The result arrives later
// through a callback carrying the same request id and an authenticity proof.
type DecryptionRequester interface {
	RequestDecryption(ctx context.Context, ct *Ciphertext) (requestID string, err error)
}
