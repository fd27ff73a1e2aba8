package oracle

import (
	"context"
	"fmt"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/sealedvwap/fhe"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// CreateMockEnclave returns an attester producing an unsigned Nitro-shaped document.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedBytes, err := cbor.Marshal(map[string]any{
				"module_id":   "test-oracle-12345",
				"digest":      "SHA384",
				"timestamp":   uint64(1234567890),
				"pcrs":        map[uint64][]byte{0: {0x01}, 1: {0x02}, 2: {0x03}},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte{},
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			})
			if err != nil {
				return nil, err
			}
			return cbor.Marshal([]any{[]byte{0x01}, map[string]any{}, nestedBytes, []byte{0x04}})
		},
	}
}

type delivery struct {
	requestID string
	plaintext uint64
	proof     []byte
}

// recorder is a Callback that captures deliveries on a channel.
type recorder struct {
	ch  chan delivery
	err error
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan delivery, 16)}
}

func (r *recorder) callback(_ context.Context, requestID string, plaintext uint64, proof []byte) error {
	r.ch <- delivery{requestID: requestID, plaintext: plaintext, proof: proof}
	return r.err
}

type fixture struct {
	backend *fhe.SealedBackend
	signer  *Signer
	oracle  *Oracle
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	backend, err := fhe.NewSealedBackend()
	assert.NoError(t, err)
	signer, err := NewSigner()
	assert.NoError(t, err)
	return &fixture{
		backend: backend,
		signer:  signer,
		oracle:  New(backend, signer, opts...),
	}
}

// encrypted imports value through the backend as a bidder would.
func (f *fixture) encrypted(t *testing.T, value uint64) *fhe.Ciphertext {
	t.Helper()
	ic := fhe.InputContext{AuctionID: 1, Caller: "seller"}
	in, proof, err := fhe.EncryptInput(f.backend.Keys().PublicKey, value, ic)
	assert.NoError(t, err)
	ct, err := f.backend.VerifyAndImport(context.Background(), in, proof, ic)
	assert.NoError(t, err)
	return ct
}
