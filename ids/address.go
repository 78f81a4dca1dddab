package ids

import (
	"crypto/sha256"
	"errors"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // ripemd160 is mandated by the address format, not a choice of convenience
)

// AddressPrefix is the fixed prefix byte of every IPPAN address (ASCII 'I').
const AddressPrefix byte = 0x49

const (
	ripemdLength    = 20
	checksumLength  = 4
	addressPayload  = 1 + ripemdLength + checksumLength // prefix + hash + checksum
)

var (
	// ErrInvalidBase58 is returned when the address string is not valid base-58.
	ErrInvalidBase58 = errors.New("ids: invalid base58 encoding")
	// ErrInvalidLength is returned when the decoded payload has the wrong length.
	ErrInvalidLength = errors.New("ids: invalid address payload length")
	// ErrInvalidPrefix is returned when the decoded prefix byte is wrong.
	ErrInvalidPrefix = errors.New("ids: invalid address prefix")
	// ErrInvalidChecksum is returned when the checksum does not verify.
	ErrInvalidChecksum = errors.New("ids: invalid address checksum")
)

// Address is an IPPAN wallet address: a base-58check encoding of
// prefix(1) || ripemd160(sha256(pubkey))(20) || checksum(4).
type Address string

// DeriveAddress builds an Address from a raw ed25519 public key per §6.2:
// SHA-256(pubkey) -> RIPEMD-160 -> prepend prefix -> append first 4 bytes
// of double-SHA-256(prefix||hash) -> base-58 encode.
func DeriveAddress(pubKey []byte) (Address, error) {
	shaSum := sha256.Sum256(pubKey)

	ripe := ripemd160.New()
	if _, err := ripe.Write(shaSum[:]); err != nil {
		return "", err
	}
	shortHash := ripe.Sum(nil)

	payload := make([]byte, 0, addressPayload)
	payload = append(payload, AddressPrefix)
	payload = append(payload, shortHash...)

	checksum := doubleSHA256(payload)
	payload = append(payload, checksum[:checksumLength]...)

	return Address(base58.Encode(payload)), nil
}

// Validate decodes and checksum-verifies addr, returning the underlying
// error kind on failure. A single flipped bit anywhere in the encoded
// string must fail here, either as a base58 decode error or a checksum
// mismatch.
func (a Address) Validate() error {
	_, err := a.decode()
	return err
}

// ShortHash returns the 20-byte RIPEMD-160 hash embedded in a, after
// validating it.
func (a Address) ShortHash() ([20]byte, error) {
	decoded, err := a.decode()
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded[1:1+ripemdLength])
	return out, nil
}

func (a Address) decode() ([]byte, error) {
	decoded, err := base58.Decode(string(a))
	if err != nil {
		return nil, ErrInvalidBase58
	}
	if len(decoded) != addressPayload {
		return nil, ErrInvalidLength
	}
	if decoded[0] != AddressPrefix {
		return nil, ErrInvalidPrefix
	}

	payload := decoded[:1+ripemdLength]
	want := decoded[1+ripemdLength:]
	got := doubleSHA256(payload)
	if string(got[:checksumLength]) != string(want) {
		return nil, ErrInvalidChecksum
	}
	return decoded, nil
}

func doubleSHA256(b []byte) [sha256.Size]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}
