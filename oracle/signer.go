package oracle

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedvwap/oracleapi"
)

// Signer produces the authenticity proofs attached to decryption results:
// COSE_Sign1 messages (ES256) over the CBOR-encoded oracleapi.DecryptionResult.
type Signer struct {
	key    *ecdsa.PrivateKey
	signer cose.Signer
}

// NewSigner creates a signer with a fresh P-256 key.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewSignerFromKey(key)
}

// NewSignerFromKey wraps an existing P-256 key.
func NewSignerFromKey(key *ecdsa.PrivateKey) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}
	return &Signer{key: key, signer: signer}, nil
}

// Sign returns a tagged COSE_Sign1 message whose payload is result.
func (s *Signer) Sign(result oracleapi.DecryptionResult) ([]byte, error) {
	payload, err := result.MarshalBinary()
	if err != nil {
		return nil, err
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("sign decryption result: %w", err)
	}

	proof, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("encode COSE message: %w", err)
	}
	return proof, nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// PublicKeyPEM returns the verification key in PEM format
func (s *Signer) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}

	return string(pem.EncodeToMemory(pemBlock)), nil
}
