package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"
)

var testPCRs = map[uint64][]byte{
	0: {0x3b, 0x4c},
	1: {0x4b, 0x4d},
	2: {0x2b, 0xdd},
}

var testPCRSet = PCRSet{PCR0: "3b4c", PCR1: "4b4d", PCR2: "2bdd", CommitHash: "abc123"}

// testNSM signs attestation documents the way an NSM device does: ES384 over an untagged
// COSE_Sign1, with a leaf certificate chained to its own root.
type testNSM struct {
	roots   *x509.CertPool
	rootDER []byte
	leafDER []byte
	leafKey *ecdsa.PrivateKey
	now     time.Time
	pcrs    map[uint64][]byte
}

func newTestNSM(t *testing.T) *testNSM {
	t.Helper()
	now := time.Now()

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-nitro-root"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	assert.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	assert.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, rootCert, &leafKey.PublicKey, rootKey)
	assert.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(rootCert)

	return &testNSM{
		roots:   roots,
		rootDER: rootDER,
		leafDER: leafDER,
		leafKey: leafKey,
		now:     now,
		pcrs:    testPCRs,
	}
}

// Attest implements oracle.EnclaveAttester.
func (n *testNSM) Attest(options enclave.AttestationOptions) ([]byte, error) {
	payload, err := cbor.Marshal(map[string]any{
		"module_id":   "test-enclave",
		"digest":      "SHA384",
		"timestamp":   uint64(n.now.UnixMilli()),
		"pcrs":        n.pcrs,
		"certificate": n.leafDER,
		"cabundle":    [][]byte{n.rootDER},
		"public_key":  []byte{},
		"user_data":   options.UserData,
		"nonce":       options.Nonce,
	})
	if err != nil {
		return nil, err
	}

	protected, err := cbor.Marshal(map[int]int{1: -35}) // alg: ES384
	if err != nil {
		return nil, err
	}

	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES384, n.leafKey)
	if err != nil {
		return nil, err
	}
	signature, err := signer.Sign(rand.Reader, sigStructure)
	if err != nil {
		return nil, err
	}

	return cbor.Marshal([]any{protected, map[int]any{}, payload, signature})
}

func (n *testNSM) policy() AttestationPolicy {
	return AttestationPolicy{KnownPCRs: []PCRSet{testPCRSet}, Roots: n.roots}
}
