package fhe

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeyManager holds the capability's key material: the RSA key pair bidders encrypt
// their inputs to, and the symmetric key that seals every ciphertext the capability issues.
type KeyManager struct {
	privateKey *rsa.PrivateKey // Keep private - sensitive!
	sealingKey []byte          // AES-256, never leaves the capability
	PublicKey  *rsa.PublicKey
}

// NewKeyManager creates a new KeyManager with a fresh RSA key pair and sealing key
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	sealingKey := make([]byte, 32)
	if _, err := rand.Read(sealingKey); err != nil {
		return nil, fmt.Errorf("failed to generate sealing key: %w", err)
	}

	return &KeyManager{
		privateKey: privateKey,
		sealingKey: sealingKey,
		PublicKey:  &privateKey.PublicKey,
	}, nil
}

// PublicKeyPEM returns the input-encryption public key in PEM format
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}

	return string(pem.EncodeToMemory(pemBlock)), nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key as returned by PublicKeyPEM
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("invalid PEM public key")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}
