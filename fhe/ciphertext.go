package fhe

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/cloudx-io/sealedvwap/core"
)

// Ciphertext is an opaque handle to a value encrypted under a Capability.
// Its contents are never inspected outside the capability that issued it; the only
// exported views are the handle id and the digest the decryption oracle signs.
type Ciphertext struct {
	handle uuid.UUID
	nonce  []byte
	sealed []byte
}

// ciphertextWire is the CBOR transport form of a Ciphertext.
type ciphertextWire struct {
	Handle []byte `cbor:"1,keyasint"`
	Nonce  []byte `cbor:"2,keyasint"`
	Sealed []byte `cbor:"3,keyasint"`
}

// Handle returns the ciphertext's identifier.
func (c *Ciphertext) Handle() string {
	if c == nil {
		return ""
	}
	return c.handle.String()
}

// Digest binds a decryption result to this exact ciphertext.
func (c *Ciphertext) Digest() string {
	if c == nil {
		return ""
	}
	return core.ComputeCiphertextDigest(c.handle.String(), c.nonce, c.sealed)
}

// MarshalCBOR implements cbor.Marshaler so ciphertexts can cross the oracle transport.
func (c *Ciphertext) MarshalCBOR() ([]byte, error) {
	if c == nil {
		return cbor.Marshal(nil)
	}
	return cbor.Marshal(ciphertextWire{
		Handle: c.handle[:],
		Nonce:  c.nonce,
		Sealed: c.sealed,
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (c *Ciphertext) UnmarshalCBOR(data []byte) error {
	var wire ciphertextWire
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode ciphertext: %w", err)
	}

	handle, err := uuid.FromBytes(wire.Handle)
	if err != nil {
		return fmt.Errorf("decode ciphertext handle: %w", err)
	}
	if len(wire.Nonce) == 0 || len(wire.Sealed) == 0 {
		return fmt.Errorf("decode ciphertext: missing nonce or payload")
	}

	c.handle = handle
	c.nonce = wire.Nonce
	c.sealed = wire.Sealed
	return nil
}
