package validation

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloudx-io/sealedvwap/oracleapi"
)

// policyFile is the on-disk form of an AttestationPolicy:
//
//	{"pcr_sets": [{"pcr0": "...", "pcr1": "...", "pcr2": "...", "commit_hash": "..."}],
//	 "roots_pem": "-----BEGIN CERTIFICATE-----..."}
//
// roots_pem is optional and replaces the AWS Nitro root.
type policyFile struct {
	PCRSets  []PCRSet `json:"pcr_sets"`
	RootsPEM string   `json:"roots_pem,omitempty"`
}

// LoadAttestationPolicy reads the enclave images an oracle may run and, optionally, the
// roots its attestation certificates chain to.
func LoadAttestationPolicy(path string) (AttestationPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AttestationPolicy{}, fmt.Errorf("read attestation policy: %w", err)
	}

	var f policyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return AttestationPolicy{}, fmt.Errorf("parse attestation policy %s: %w", path, err)
	}
	if len(f.PCRSets) == 0 {
		return AttestationPolicy{}, fmt.Errorf("attestation policy %s lists no PCR sets", path)
	}

	policy := AttestationPolicy{KnownPCRs: f.PCRSets}
	if f.RootsPEM != "" {
		policy.Roots = x509.NewCertPool()
		if !policy.Roots.AppendCertsFromPEM([]byte(f.RootsPEM)) {
			return AttestationPolicy{}, fmt.Errorf("attestation policy %s: roots_pem holds no certificates", path)
		}
	}
	return policy, nil
}

// MatchPCRs returns the index of the known set the measurements belong to, or -1.
// PCR0-2 identify the enclave image, kernel and application.
func (p AttestationPolicy) MatchPCRs(pcrs oracleapi.PCRs) int {
	for i, set := range p.KnownPCRs {
		if pcrs.ImageFileHash == set.PCR0 && pcrs.KernelHash == set.PCR1 && pcrs.ApplicationHash == set.PCR2 {
			return i
		}
	}
	return -1
}
