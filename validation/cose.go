package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedvwap/oracleapi"
)

// ErrInvalidProof is returned when a decryption proof fails verification.
var ErrInvalidProof = errors.New("invalid decryption proof")

// DecryptionVerifier verifies oracle decryption proofs (COSE_Sign1, ES256) against a pinned key.
type DecryptionVerifier struct {
	verifier cose.Verifier
}

// NewDecryptionVerifier creates a verifier for the oracle key pub.
func NewDecryptionVerifier(pub *ecdsa.PublicKey) (*DecryptionVerifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("oracle public key is nil")
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	return &DecryptionVerifier{verifier: verifier}, nil
}

// NewDecryptionVerifierFromPEM creates a verifier from a PEM-encoded P-256 public key.
func NewDecryptionVerifierFromPEM(publicKeyPEM string) (*DecryptionVerifier, error) {
	pub, err := ParseECDSAPublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return NewDecryptionVerifier(pub)
}

// Verify checks the proof's signature and returns the signed result.
func (v *DecryptionVerifier) Verify(proof []byte) (*oracleapi.DecryptionResult, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(proof); err != nil {
		return nil, fmt.Errorf("%w: decode COSE_Sign1: %v", ErrInvalidProof, err)
	}

	if err := msg.Verify(nil, v.verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	result, err := oracleapi.UnmarshalDecryptionResult(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return result, nil
}

// ParseECDSAPublicKeyPEM parses a PEM "PUBLIC KEY" block holding an ECDSA key.
func ParseECDSAPublicKeyPEM(publicKeyPEM string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("invalid PEM public key")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return ecKey, nil
}

// VerifyCOSESignature verifies a Nitro attestation's COSE_Sign1 signature given base64-encoded
// COSE bytes and the base64 DER signing certificate from the attestation document.
func VerifyCOSESignature(coseB64 oracleapi.AttestationCOSEBase64, certB64 string) error {
	coseBytes, err := coseB64.Decode()
	if err != nil {
		return fmt.Errorf("decode COSE bytes: %w", err)
	}

	certDER, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return fmt.Errorf("decode certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	// AWS Nitro returns untagged COSE_Sign1 (4-element array)
	// Parse it manually: [protected, unprotected, payload, signature]
	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	protectedBytes, ok := coseArray[0].([]byte)
	if !ok {
		return fmt.Errorf("invalid protected headers")
	}

	payload, ok := coseArray[2].([]byte)
	if !ok {
		return fmt.Errorf("invalid payload")
	}

	signature, ok := coseArray[3].([]byte)
	if !ok {
		return fmt.Errorf("invalid signature")
	}

	// AWS Nitro uses ES384 (ECDSA P-384 with SHA-384)
	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	// Sig_structure for COSE_Sign1: ["Signature1", protected, external_aad, payload]
	sigStructure := []any{
		"Signature1",
		protectedBytes,
		[]byte{}, // empty external_aad
		payload,
	}

	sigStructureBytes, err := cbor.Marshal(sigStructure)
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	if err := verifier.Verify(sigStructureBytes, signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}

	return nil
}
