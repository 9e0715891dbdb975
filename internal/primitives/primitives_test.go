package primitives

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)

	for _, size := range []int{0, 1, 31, 32, 33, 1024} {
		plaintext := bytes.Repeat([]byte{0xab}, size)
		blob, err := Encrypt(key[:], plaintext)
		require.NoError(t, err)
		require.Len(t, blob, size+Overhead)

		out, err := Decrypt(key[:], blob)
		require.NoError(t, err)
		require.NotNil(t, out)
		require.Equal(t, plaintext, out)
	}
}

func TestSealDeterministic(t *testing.T) {
	key := Derive([]byte("secret"), []byte("label"))
	var (
		nonce [NonceSize]byte
		ad    [AdSize]byte
	)
	nonce[0], ad[0] = 1, 2

	a, err := Seal(key[:], nonce, ad, []byte("payload"))
	require.NoError(t, err)
	b, err := Seal(key[:], nonce, ad, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, a, b)

	got, err := SplitNonce(a)
	require.NoError(t, err)
	require.Equal(t, nonce, got)
}

func TestDecryptRejectsTampering(t *testing.T) {
	key, _ := RandomKey()
	other, _ := RandomKey()
	blob, err := Encrypt(key[:], []byte("confidential"))
	require.NoError(t, err)

	_, err = Decrypt(other[:], blob)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	flipped := common.CopyBytes(blob)
	flipped[NonceSize+2] ^= 0x01
	_, err = Decrypt(key[:], flipped)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = Decrypt(key[:], blob[:Overhead-1])
	require.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = Decrypt(key[:16], blob)
	require.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestDeriveIsLabelKeyedHMAC(t *testing.T) {
	a := Derive([]byte("master"), TxKeyLabel)
	b := Derive([]byte("master"), StateKeyLabel)
	require.NotEqual(t, a, b)
	require.Equal(t, a, Derive([]byte("master"), TxKeyLabel))

	// Swapping the roles of secret and label must give a different key.
	require.NotEqual(t, Derive(TxKeyLabel, []byte("master")), a)
}

func TestSharedKeyAgreement(t *testing.T) {
	aliceSk, alicePk, err := GenerateX25519()
	require.NoError(t, err)
	bobSk, bobPk, err := GenerateX25519()
	require.NoError(t, err)

	k1, err := SharedKey(aliceSk, bobPk[:])
	require.NoError(t, err)
	k2, err := SharedKey(bobSk, alicePk[:])
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	_, err = ECDH(aliceSk, bobPk[:31])
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestRecoverSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)
	hash := crypto.Keccak256Hash([]byte("transaction"))

	sig, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)

	got, err := RecoverSender(hash, sig)
	require.NoError(t, err)
	require.Equal(t, want, got)

	legacy := common.CopyBytes(sig)
	legacy[64] += 27
	got, err = RecoverSender(hash, legacy)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = RecoverSender(hash, sig[:64])
	require.ErrorIs(t, err, ErrInvalidSignatureLen)
}

func TestRecoverSenderRejectsHighS(t *testing.T) {
	key, _ := crypto.GenerateKey()
	hash := crypto.Keccak256Hash([]byte("malleable"))
	sig, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)

	n := crypto.S256().Params().N
	s := new(big.Int).SetBytes(sig[32:64])
	high := new(big.Int).Sub(n, s)

	malleated := common.CopyBytes(sig)
	copy(malleated[32:64], common.LeftPadBytes(high.Bytes(), 32))
	malleated[64] ^= 1

	_, err = RecoverSender(hash, malleated)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSaltedNonce(t *testing.T) {
	key := Derive([]byte("state"), StateKeyLabel)
	contract := common.HexToAddress("0x1000000000000000000000000000000000000001")
	slot := common.HexToHash("0x01")

	salt := StorageSalt(contract, slot, 10, 1700000000)
	n1, ad1, err := SaltedNonce(key, salt)
	require.NoError(t, err)
	n2, ad2, err := SaltedNonce(key, salt)
	require.NoError(t, err)
	require.Equal(t, n1, n2)
	require.Equal(t, ad1, ad2)

	n3, _, err := SaltedNonce(key, StorageSalt(contract, slot, 11, 1700000000))
	require.NoError(t, err)
	require.NotEqual(t, n1, n3)

	other := Derive([]byte("other"), StateKeyLabel)
	n4, _, err := SaltedNonce(other, salt)
	require.NoError(t, err)
	require.NotEqual(t, n1, n4)
}
