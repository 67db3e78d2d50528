package agreement

import (
	"bytes"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base32"
	"fmt"
)

// AddressLength is the size of a ledger account address.
const AddressLength = 32

const checksumLength = 4

var addrEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Address is an opaque account identity supplied by the ledger as the call sender.
type Address [AddressLength]byte

// ZeroAddress is never a party to an agreement.
var ZeroAddress Address

// AddressFromBytes copies b into an Address. b must be exactly AddressLength bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress decodes the checksummed base32 text form.
func ParseAddress(s string) (Address, error) {
	decoded, err := addrEncoding.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("failed to decode address %s to base 32", s)
	}
	if len(decoded) != AddressLength+checksumLength {
		return Address{}, fmt.Errorf("decoded bad addr: %s", s)
	}
	var a Address
	copy(a[:], decoded[:AddressLength])
	if !bytes.Equal(decoded[AddressLength:], a.checksum()) {
		return Address{}, fmt.Errorf("address %s is malformed, checksum verification failed", s)
	}
	if a.String() != s {
		return Address{}, fmt.Errorf("address %s is non-canonical", s)
	}
	return a, nil
}

// NewAddress returns a random address, useful for local accounts and tests.
func NewAddress() (Address, error) {
	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		return a, err
	}
	return a, nil
}

// checksum is the last 4 bytes of SHA-512/256 over the address.
func (a Address) checksum() []byte {
	sum := sha512.Sum512_256(a[:])
	return sum[len(sum)-checksumLength:]
}

func (a Address) String() string {
	withChecksum := append(a[:], a.checksum()...)
	return addrEncoding.EncodeToString(withChecksum)
}

func (a Address) IsZero() bool { return a == ZeroAddress }

func (a Address) Bytes() []byte {
	b := make([]byte, AddressLength)
	copy(b, a[:])
	return b
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
