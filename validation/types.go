package validation

import "crypto/x509"

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// KeyValidationResult contains validation results specific to oracle key attestations
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch bool
	PurposeValid   bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.PublicKeyMatch && r.PurposeValid
}

// ClearingValidationResult contains validation results for a published clearing price
type ClearingValidationResult struct {
	SignatureValid     bool
	RequestIDValid     bool
	DigestValid        bool
	ClearingPriceValid bool
	ValidationDetails  []string
}

// IsValid returns true if all clearing price checks passed
func (r *ClearingValidationResult) IsValid() bool {
	return r.SignatureValid && r.RequestIDValid && r.DigestValid && r.ClearingPriceValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // repo commit used to build the oracle enclave image
}

// AttestationPolicy is what an attestation is checked against.
type AttestationPolicy struct {
	KnownPCRs []PCRSet
	Roots     *x509.CertPool // nil means the AWS Nitro root
}
