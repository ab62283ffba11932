package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the byte length of a ledger address.
const AddressLength = 20

// Address identifies a participant account.
type Address [AddressLength]byte

// ParseAddress decodes a 0x-prefixed or bare hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("address: invalid hex: %w", err)
	}
	if len(raw) != AddressLength {
		return addr, fmt.Errorf("address: expected %d bytes, got %d", AddressLength, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// String renders the address as 0x-prefixed hex.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	for _, b := range a {
		if b != 0 {
			return false
		}
	}
	return true
}
