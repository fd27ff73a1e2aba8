package fhe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
)

// HashAlgorithm specifies which hash function to use in RSA-OAEP
type HashAlgorithm string

const (
	// HashAlgorithmSHA256 uses SHA-256 (recommended, default)
	HashAlgorithmSHA256 HashAlgorithm = "SHA-256"
	// HashAlgorithmSHA1 uses SHA-1 (legacy support for client compatibility)
	HashAlgorithmSHA1 HashAlgorithm = "SHA-1"
)

// GenerateRSAKeyPair generates a new RSA-2048 key pair using crypto/rand
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return privateKey, nil
}

// newHash creates the appropriate implementation of hash.Hash,
// or returns an error if the algorithm is unsupported.
func newHash(hashAlg HashAlgorithm) (hash.Hash, error) {
	switch hashAlg {
	case HashAlgorithmSHA256:
		return sha256.New(), nil
	case HashAlgorithmSHA1:
		return sha1.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", hashAlg)
	}
}

// HybridEncryptionResult contains the results of hybrid encryption
type HybridEncryptionResult struct {
	EncryptedAESKey  string
	EncryptedPayload string
	Nonce            string
}

// EncryptHybrid encrypts data using hybrid RSA-OAEP + AES-256-GCM encryption.
// aad is authenticated but not encrypted; the same aad must be supplied to DecryptHybrid.
// Returns HybridEncryptionResult with base64-encoded values
func EncryptHybrid(plaintext, aad []byte, publicKey *rsa.PublicKey, hashAlg HashAlgorithm) (*HybridEncryptionResult, error) {
	hasher, err := newHash(hashAlg)
	if err != nil {
		return nil, err
	}

	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}

	aesgcm, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}

	nonceBytes := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aesgcm.Seal(nil, nonceBytes, plaintext, aad)

	encryptedAESKeyBytes, err := rsa.EncryptOAEP(hasher, rand.Reader, publicKey, aesKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt AES key: %w", err)
	}

	return &HybridEncryptionResult{
		EncryptedAESKey:  base64.StdEncoding.EncodeToString(encryptedAESKeyBytes),
		EncryptedPayload: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:            base64.StdEncoding.EncodeToString(nonceBytes),
	}, nil
}

// DecryptHybrid decrypts data encrypted with hybrid RSA-OAEP + AES-256-GCM encryption
// Parameters:
//   - encryptedAESKey: RSA-encrypted AES key (base64-encoded)
//   - encryptedPayload: AES-GCM encrypted data (base64-encoded)
//   - nonce: GCM nonce (base64-encoded)
//   - aad: additional authenticated data the payload was sealed with
//   - privateKey: RSA private key for decrypting the AES key
//   - hashAlg: Hash algorithm for RSA-OAEP (HashAlgorithmSHA256 or HashAlgorithmSHA1)
//
// # Returns the decrypted plaintext bytes
//
// Note: SHA-1 support (HashAlgorithmSHA1) is provided for legacy client compatibility.
// SHA-256 (HashAlgorithmSHA256) is strongly recommended for new implementations.
func DecryptHybrid(encryptedAESKey, encryptedPayload, nonceB64 string, aad []byte, privateKey *rsa.PrivateKey, hashAlg HashAlgorithm) ([]byte, error) {
	encryptedAESKeyBytes, err := base64.StdEncoding.DecodeString(encryptedAESKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted AES key: %w", err)
	}

	encryptedPayloadBytes, err := base64.StdEncoding.DecodeString(encryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted payload: %w", err)
	}

	nonceBytes, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}

	hasher, err := newHash(hashAlg)
	if err != nil {
		return nil, err
	}

	aesKey, err := rsa.DecryptOAEP(hasher, rand.Reader, privateKey, encryptedAESKeyBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt AES key: %w", err)
	}

	// Validate AES key length (should be 32 bytes for AES-256)
	if len(aesKey) != 32 {
		return nil, fmt.Errorf("invalid AES key length: expected 32 bytes, got %d", len(aesKey))
	}

	aesgcm, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}

	if len(nonceBytes) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: expected %d bytes, got %d", aesgcm.NonceSize(), len(nonceBytes))
	}

	plaintext, err := aesgcm.Open(nil, nonceBytes, encryptedPayloadBytes, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesgcm, nil
}
