package fhe

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedvwap/core"
)

func newTestBackend(t *testing.T) *SealedBackend {
	t.Helper()
	backend, err := NewSealedBackend()
	assert.NoError(t, err)
	return backend
}

func importValue(t *testing.T, backend *SealedBackend, value uint64) *Ciphertext {
	t.Helper()
	ic := InputContext{AuctionID: 1, Caller: "alice"}
	in, proof, err := EncryptInput(backend.Keys().PublicKey, value, ic)
	assert.NoError(t, err)
	ct, err := backend.VerifyAndImport(context.Background(), in, proof, ic)
	assert.NoError(t, err)
	return ct
}

func TestSealedBackend_ImportRoundTrip(t *testing.T) {
	backend := newTestBackend(t)

	ct := importValue(t, backend, 98)
	check.NotEqual(t, "", ct.Handle())

	v, err := backend.Decrypt(ct)
	assert.NoError(t, err)
	check.Equal(t, uint64(98), v)
}

func TestSealedBackend_RejectsWrongContext(t *testing.T) {
	backend := newTestBackend(t)
	ic := InputContext{AuctionID: 1, Caller: "alice"}

	in, proof, err := EncryptInput(backend.Keys().PublicKey, 10, ic)
	assert.NoError(t, err)

	tests := []struct {
		name  string
		proof InputProof
		ic    InputContext
	}{
		{"other caller", proof, InputContext{AuctionID: 1, Caller: "mallory"}},
		{"other auction", proof, InputContext{AuctionID: 2, Caller: "alice"}},
		{"forged proof for other caller", InputProof(core.ComputeInputBindingHash(1, "mallory", in.EncryptedPayload)), InputContext{AuctionID: 1, Caller: "mallory"}},
		{"garbage proof", InputProof("deadbeef"), ic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := backend.VerifyAndImport(context.Background(), in, tt.proof, tt.ic)
			check.Nil(t, ct)
			check.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestSealedBackend_RejectsOutOfDomainValue(t *testing.T) {
	backend := newTestBackend(t)
	ic := InputContext{AuctionID: 3, Caller: "bob"}

	in, proof, err := EncryptInput(backend.Keys().PublicKey, core.MaxPrice+1, ic)
	assert.NoError(t, err)

	_, err = backend.VerifyAndImport(context.Background(), in, proof, ic)
	check.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSealedBackend_RejectsInputForOtherKey(t *testing.T) {
	backend := newTestBackend(t)
	other := newTestBackend(t)
	ic := InputContext{AuctionID: 1, Caller: "alice"}

	in, proof, err := EncryptInput(other.Keys().PublicKey, 10, ic)
	assert.NoError(t, err)

	_, err = backend.VerifyAndImport(context.Background(), in, proof, ic)
	check.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSealedBackend_Arithmetic(t *testing.T) {
	backend := newTestBackend(t)

	// Σ price×qty for (120, 30) and (95, 50): 3600 + 4750 = 8350; 8350 / 80 = 104 (floor)
	a, err := backend.MulPlain(importValue(t, backend, 120), 30)
	assert.NoError(t, err)
	b, err := backend.MulPlain(importValue(t, backend, 95), 50)
	assert.NoError(t, err)

	sum, err := backend.Add(a, b)
	assert.NoError(t, err)
	quotient, err := backend.DivPlain(sum, 80)
	assert.NoError(t, err)

	total, err := backend.Decrypt(sum)
	assert.NoError(t, err)
	check.Equal(t, uint64(8350), total)

	vwap, err := backend.Decrypt(quotient)
	assert.NoError(t, err)
	check.Equal(t, uint64(8350/80), vwap)
}

func TestSealedBackend_DivPlainMatchesPlaintextFloor(t *testing.T) {
	backend := newTestBackend(t)

	for _, tc := range []struct{ num, div uint64 }{{7, 2}, {130, 7}, {1, 3}, {0, 5}, {99, 99}} {
		ct, err := backend.seal(tc.num)
		assert.NoError(t, err)
		q, err := backend.DivPlain(ct, tc.div)
		assert.NoError(t, err)
		v, err := backend.Decrypt(q)
		assert.NoError(t, err)
		check.Equal(t, tc.num/tc.div, v)
	}
}

func TestSealedBackend_Errors(t *testing.T) {
	backend := newTestBackend(t)

	big, err := backend.seal(math.MaxUint64)
	assert.NoError(t, err)
	one, err := backend.seal(1)
	assert.NoError(t, err)

	_, err = backend.Add(big, one)
	check.True(t, errors.Is(err, ErrOverflow))

	_, err = backend.MulPlain(big, 2)
	check.True(t, errors.Is(err, ErrOverflow))

	_, err = backend.DivPlain(one, 0)
	check.True(t, errors.Is(err, ErrDivideByZero))

	// A ciphertext from another backend cannot be opened
	other := newTestBackend(t)
	foreign, err := other.seal(5)
	assert.NoError(t, err)
	_, err = backend.Add(foreign, one)
	check.True(t, errors.Is(err, ErrForeignCiphertext))
}

func TestCiphertext_CBORRoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ct := importValue(t, backend, 77)

	data, err := cbor.Marshal(ct)
	assert.NoError(t, err)

	var decoded Ciphertext
	assert.NoError(t, cbor.Unmarshal(data, &decoded))
	check.Equal(t, ct.Handle(), decoded.Handle())
	check.Equal(t, ct.Digest(), decoded.Digest())

	v, err := backend.Decrypt(&decoded)
	assert.NoError(t, err)
	check.Equal(t, uint64(77), v)
}
