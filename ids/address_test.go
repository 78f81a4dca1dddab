package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveAddress_DistinctAndValid(t *testing.T) {
	allZero := make([]byte, 32)
	allOne := make([]byte, 32)
	for i := range allOne {
		allOne[i] = 0xFF
	}

	zeroAddr, err := DeriveAddress(allZero)
	require.NoError(t, err)
	oneAddr, err := DeriveAddress(allOne)
	require.NoError(t, err)

	require.NotEqual(t, zeroAddr, oneAddr)
	require.NoError(t, zeroAddr.Validate())
	require.NoError(t, oneAddr.Validate())
}

func TestAddress_CorruptedLastCharacterFailsValidation(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i)
	}
	addr, err := DeriveAddress(pub)
	require.NoError(t, err)

	raw := []byte(string(addr))
	last := raw[len(raw)-1]
	// Flip to a different valid base58 character.
	replacement := byte('1')
	if last == replacement {
		replacement = '2'
	}
	raw[len(raw)-1] = replacement
	corrupted := Address(raw)

	require.Error(t, corrupted.Validate())
}

func TestAddress_RoundTrip(t *testing.T) {
	pub := []byte("this-is-a-32-byte-test-pubkey!!!")
	require.Len(t, pub, 32)

	addr, err := DeriveAddress(pub)
	require.NoError(t, err)
	require.NoError(t, addr.Validate())

	hash, err := addr.ShortHash()
	require.NoError(t, err)
	require.NotEqual(t, [20]byte{}, hash)
}

func TestAddress_InvalidBase58(t *testing.T) {
	require.Error(t, Address("not-valid-base58-0OIl").Validate())
}
