package fhe

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedvwap/core"
)

// SealedBackend is the reference Capability. Every value it issues is AES-256-GCM sealed
// under a key that never leaves the backend, with the ciphertext handle as additional data,
// so a ciphertext cannot be opened, forged or relabeled outside it. Homomorphic operations
// run inside the backend boundary, the same trust model as an enclave-hosted coprocessor.
type SealedBackend struct {
	keys *KeyManager
	aead cipher.AEAD

	// maxInput bounds imported plaintexts
	maxInput uint64
}

var (
	_ Capability = (*SealedBackend)(nil)
	_ Decrypter  = (*SealedBackend)(nil)
)

// NewSealedBackend creates a backend with fresh key material. Imported inputs are bounded by core.MaxPrice.
func NewSealedBackend() (*SealedBackend, error) {
	keys, err := NewKeyManager()
	if err != nil {
		return nil, err
	}
	return NewSealedBackendWithKeys(keys)
}

// NewSealedBackendWithKeys creates a backend over existing key material.
func NewSealedBackendWithKeys(keys *KeyManager) (*SealedBackend, error) {
	aead, err := newGCM(keys.sealingKey)
	if err != nil {
		return nil, err
	}
	return &SealedBackend{keys: keys, aead: aead, maxInput: core.MaxPrice}, nil
}

// Keys returns the backend's key manager (bidders need its public key).
func (b *SealedBackend) Keys() *KeyManager {
	return b.keys
}

// VerifyAndImport implements Capability.
func (b *SealedBackend) VerifyAndImport(_ context.Context, in *EncryptedInput, proof InputProof, ic InputContext) (*Ciphertext, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: missing input", ErrInvalidInput)
	}

	expected := core.ComputeInputBindingHash(ic.AuctionID, ic.Caller, in.EncryptedPayload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(proof)) != 1 {
		return nil, fmt.Errorf("%w: proof does not bind input to auction %d and caller %s", ErrInvalidInput, ic.AuctionID, ic.Caller)
	}

	hashAlg := HashAlgorithm(in.HashAlgorithm)
	if hashAlg == "" {
		hashAlg = HashAlgorithmSHA256
	}

	plaintext, err := DecryptHybrid(in.AESKeyEncrypted, in.EncryptedPayload, in.Nonce,
		core.ComputeInputAAD(ic.AuctionID, ic.Caller), b.keys.privateKey, hashAlg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var payload inputPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid payload format: %v", ErrInvalidInput, err)
	}
	if payload.Value > b.maxInput {
		return nil, fmt.Errorf("%w: value outside supported domain", ErrInvalidInput)
	}

	return b.seal(payload.Value)
}

// Add implements Capability.
func (b *SealedBackend) Add(x, y *Ciphertext) (*Ciphertext, error) {
	xv, err := b.open(x)
	if err != nil {
		return nil, err
	}
	yv, err := b.open(y)
	if err != nil {
		return nil, err
	}

	sum, carry := bits.Add64(xv, yv, 0)
	if carry != 0 {
		return nil, ErrOverflow
	}
	return b.seal(sum)
}

// MulPlain implements Capability.
func (b *SealedBackend) MulPlain(x *Ciphertext, k uint64) (*Ciphertext, error) {
	xv, err := b.open(x)
	if err != nil {
		return nil, err
	}

	hi, lo := bits.Mul64(xv, k)
	if hi != 0 {
		return nil, ErrOverflow
	}
	return b.seal(lo)
}

// DivPlain implements Capability with floor semantics.
func (b *SealedBackend) DivPlain(x *Ciphertext, k uint64) (*Ciphertext, error) {
	if k == 0 {
		return nil, ErrDivideByZero
	}
	xv, err := b.open(x)
	if err != nil {
		return nil, err
	}
	return b.seal(xv / k)
}

// Decrypt implements Decrypter. It is meant for the decryption oracle only.
func (b *SealedBackend) Decrypt(ct *Ciphertext) (uint64, error) {
	return b.open(ct)
}

func (b *SealedBackend) seal(v uint64) (*Ciphertext, error) {
	handle := uuid.New()

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	var plaintext [8]byte
	binary.BigEndian.PutUint64(plaintext[:], v)

	return &Ciphertext{
		handle: handle,
		nonce:  nonce,
		sealed: b.aead.Seal(nil, nonce, plaintext[:], handle[:]),
	}, nil
}

func (b *SealedBackend) open(ct *Ciphertext) (uint64, error) {
	if ct == nil || len(ct.nonce) != b.aead.NonceSize() {
		return 0, ErrForeignCiphertext
	}

	plaintext, err := b.aead.Open(nil, ct.nonce, ct.sealed, ct.handle[:])
	if err != nil || len(plaintext) != 8 {
		return 0, ErrForeignCiphertext
	}
	return binary.BigEndian.Uint64(plaintext), nil
}
