// Package oracleapi holds the wire types shared by the decryption oracle, its clients and validators.
package oracleapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Message types exchanged with an oracle server.
const (
	TypePing            = "ping"
	TypePong            = "pong"
	TypeKeyRequest      = "key_request"
	TypeKeyResponse     = "key_response"
	TypeDecryptRequest  = "decrypt_request"
	TypeDecryptResponse = "decrypt_response"
	TypeError           = "error"
)

const (
	SigningKeyAlgorithm  = "ECDSA-P256"
	DecryptionKeyPurpose = "decryption-result-signing"
)

// DecryptionResult is the payload the oracle signs. It binds a plaintext to the request
// that asked for it and to the exact ciphertext it was decrypted from.
type DecryptionResult struct {
	RequestID        string `cbor:"1,keyasint" json:"request_id"`
	CiphertextDigest string `cbor:"2,keyasint" json:"ciphertext_digest"`
	Plaintext        uint64 `cbor:"3,keyasint" json:"plaintext"`
	Timestamp        int64  `cbor:"4,keyasint" json:"timestamp"` // unix milliseconds
}

// decryptionResultFields has DecryptionResult's layout without its methods; cbor calls
// MarshalBinary on any type that has it.
type decryptionResultFields DecryptionResult

// MarshalBinary encodes the result as deterministic CBOR (the signed form).
func (r DecryptionResult) MarshalBinary() ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR encoder: %w", err)
	}
	return em.Marshal(decryptionResultFields(r))
}

// UnmarshalDecryptionResult decodes a signed-form payload.
func UnmarshalDecryptionResult(data []byte) (*DecryptionResult, error) {
	var r DecryptionResult
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode decryption result: %w", err)
	}
	if r.RequestID == "" || r.CiphertextDigest == "" {
		return nil, fmt.Errorf("decryption result missing request id or ciphertext digest")
	}
	return &r, nil
}

// DecryptRequest asks a remote oracle to decrypt one ciphertext.
type DecryptRequest struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id"`
	Ciphertext []byte `json:"ciphertext"` // CBOR-encoded fhe.Ciphertext
}

// DecryptResponse carries the plaintext and its COSE_Sign1 authenticity proof.
type DecryptResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Plaintext uint64 `json:"plaintext"`
	Proof     []byte `json:"proof"`
}

// KeyRequest asks an oracle for its result-signing key.
type KeyRequest struct {
	Type string `json:"type"`
}

// KeyResponse represents the response from a key request to the oracle
type KeyResponse struct {
	Type                  string                `json:"type"`
	PublicKey             string                `json:"public_key"` // PEM format
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// ErrorResponse is returned by an oracle server for any failed request.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc represents the structured attestation data from AWS Nitro Enclaves
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"` // base64 DER
	CABundle        []string  `json:"cabundle"`    // base64 DER, root first
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// KeyAttestationDoc represents attestation of the oracle's result-signing key
type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}

// KeyAttestationUserData represents the key-specific data embedded in key attestation
type KeyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"` // e.g., "ECDSA-P256"
	PublicKey    string `json:"public_key"`    // PEM-encoded public key
	Purpose      string `json:"purpose"`
}

// AttestationCOSE is a raw Nitro attestation: an untagged COSE_Sign1 array.
type AttestationCOSE []byte

// AttestationCOSEBase64 is the base64 transport form of AttestationCOSE.
type AttestationCOSEBase64 string

// EncodeBase64 returns the base64 form.
func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

// Decode returns the raw COSE bytes.
func (a AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	data, err := base64.StdEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode base64 attestation: %w", err)
	}
	return AttestationCOSE(data), nil
}

// ParseAttestationDoc parses the COSE payload and returns the attestation document
// together with its raw user data.
func (a AttestationCOSE) ParseAttestationDoc() (AttestationDoc, []byte, error) {
	payload, err := ExtractCOSEPayload(a)
	if err != nil {
		return AttestationDoc{}, nil, err
	}

	var raw NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return AttestationDoc{}, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	doc := AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs:            ExtractPCRs(raw.PCRs),
		Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:        EncodeCertificateBundle(raw.CABundle),
		PublicKey:       base64.StdEncoding.EncodeToString(raw.PublicKey),
		Nonce:           string(raw.Nonce),
	}
	return doc, raw.UserData, nil
}

// ParseKeyAttestation parses a key attestation and decodes its user data.
func (a AttestationCOSE) ParseKeyAttestation() (*KeyAttestationDoc, error) {
	doc, userDataBytes, err := a.ParseAttestationDoc()
	if err != nil {
		return nil, err
	}

	var userData KeyAttestationUserData
	if len(userDataBytes) > 0 {
		if err := json.Unmarshal(userDataBytes, &userData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	return &KeyAttestationDoc{
		AttestationDoc: doc,
		UserData:       &userData,
	}, nil
}
