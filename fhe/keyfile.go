package fhe

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const (
	privateKeyBlock = "PRIVATE KEY"
	sealingKeyBlock = "SEALVWAP SEALING KEY"
)

// MarshalPEM encodes the full key material. The result is secret.
func (km *KeyManager) MarshalPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(km.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: privateKeyBlock, Bytes: der})
	return append(out, pem.EncodeToMemory(&pem.Block{Type: sealingKeyBlock, Bytes: km.sealingKey})...), nil
}

// ParseKeyManagerPEM decodes key material written by MarshalPEM.
func ParseKeyManagerPEM(data []byte) (*KeyManager, error) {
	km := &KeyManager{}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case privateKeyBlock:
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse private key: %w", err)
			}
			rsaKey, ok := key.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("private key is not RSA")
			}
			km.privateKey = rsaKey
			km.PublicKey = &rsaKey.PublicKey
		case sealingKeyBlock:
			if len(block.Bytes) != 32 {
				return nil, fmt.Errorf("sealing key must be 32 bytes, got %d", len(block.Bytes))
			}
			km.sealingKey = block.Bytes
		}
	}

	if km.privateKey == nil || km.sealingKey == nil {
		return nil, fmt.Errorf("key material incomplete")
	}
	return km, nil
}

// ReadKeyFile loads key material from path.
func ReadKeyFile(path string) (*KeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return ParseKeyManagerPEM(data)
}

// WriteKeyFile stores key material at path, readable by the owner only.
func WriteKeyFile(path string, km *KeyManager) error {
	data, err := km.MarshalPEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}
