package host

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/swisstronik/evm-enclave/core/compliance"
	"github.com/swisstronik/evm-enclave/keymanager"
)

var (
	alice    = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	contract = common.HexToAddress("0xc0de000000000000000000000000000000000002")
)

func newTestStorage(t *testing.T) (*Storage, *LevelDBHost, *keymanager.KeyManager) {
	t.Helper()
	db := NewMemoryHost()
	t.Cleanup(func() { db.Close() })
	km, err := keymanager.Random()
	require.NoError(t, err)
	return NewStorage(context.Background(), db, km, Block{Number: 10, Timestamp: 1700000000}), db, km
}

func TestAccounts(t *testing.T) {
	s, db, _ := newTestStorage(t)

	ok, err := s.Contains(alice)
	require.NoError(t, err)
	require.False(t, ok)
	balance, nonce, err := s.Account(alice)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
	require.Zero(t, nonce)
	hash, err := s.CodeHash(alice)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, hash)

	require.NoError(t, db.SetAccount(alice, uint256.NewInt(1000), 3))
	require.NoError(t, s.PutNonce(alice, 4))

	balance, nonce, err = s.Account(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), balance.Uint64())
	require.Equal(t, uint64(4), nonce)

	hash, err = s.CodeHash(alice)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(nil), hash)
}

func TestCode(t *testing.T) {
	s, _, _ := newTestStorage(t)
	code := []byte{0x60, 0x00, 0x60, 0x00, 0xf3}
	require.NoError(t, s.PutCode(contract, code))

	ok, err := s.Contains(contract)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := s.Code(contract)
	require.NoError(t, err)
	require.Equal(t, code, got)
	size, err := s.CodeSize(contract)
	require.NoError(t, err)
	require.Equal(t, uint64(len(code)), size)
	hash, err := s.CodeHash(contract)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(code), hash)
}

func TestStorageIsEncrypted(t *testing.T) {
	s, db, km := newTestStorage(t)
	slot := common.HexToHash("0x01")
	value := common.HexToHash("0xdeadbeef")

	_, ok, err := s.Storage(contract, slot)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutStorage(contract, slot, value))

	raw, err := db.RawStorage(contract, slot)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 48)
	require.NotContains(t, string(raw), string(value.Bytes()))

	plaintext, err := km.DecryptStorage(contract, raw)
	require.NoError(t, err)
	require.Equal(t, value.Bytes(), plaintext)

	got, ok, err := s.Storage(contract, slot)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value, got)

	require.NoError(t, s.RemoveStorage(contract, slot))
	_, ok, err = s.Storage(contract, slot)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestForeignKeyCannotReadStorage(t *testing.T) {
	s, db, _ := newTestStorage(t)
	require.NoError(t, s.PutStorage(contract, common.Hash{}, common.HexToHash("0x05")))

	other, _ := keymanager.Random()
	foreign := NewStorage(context.Background(), db, other, Block{})
	_, _, err := foreign.Storage(contract, common.Hash{})
	require.ErrorIs(t, err, keymanager.ErrCorruptCiphertext)
}

func TestBatchIsAtomic(t *testing.T) {
	s, db, _ := newTestStorage(t)
	require.NoError(t, db.SetAccount(alice, uint256.NewInt(5), 0))

	b := s.NewBatch()
	require.NoError(t, b.PutBalance(alice, uint256.NewInt(7)))
	require.NoError(t, b.PutNonce(alice, 1))
	require.NoError(t, b.PutStorage(contract, common.Hash{}, common.HexToHash("0x01")))
	require.Equal(t, 3, b.Len())

	// Nothing is visible until the batch is written.
	_, nonce, _ := s.Account(alice)
	require.Zero(t, nonce)

	require.NoError(t, b.Write())
	balance, nonce, err := s.Account(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(7), balance.Uint64())
	require.Equal(t, uint64(1), nonce)
	require.Zero(t, b.Len())
}

func TestRemoveAccount(t *testing.T) {
	s, db, _ := newTestStorage(t)
	require.NoError(t, db.SetAccount(contract, uint256.NewInt(1), 1))
	require.NoError(t, s.PutCode(contract, []byte{0x00}))
	require.NoError(t, s.PutStorage(contract, common.HexToHash("0x01"), common.HexToHash("0x01")))
	require.NoError(t, s.PutStorage(alice, common.HexToHash("0x01"), common.HexToHash("0x02")))

	require.NoError(t, s.Remove(contract))

	ok, err := s.Contains(contract)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.Storage(contract, common.HexToHash("0x01"))
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.Storage(alice, common.HexToHash("0x01"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBlockHash(t *testing.T) {
	s, db, _ := newTestStorage(t)
	want := common.HexToHash("0xabcdef")
	require.NoError(t, db.SetBlockHash(9, want))
	got, err := s.BlockHash(9)
	require.NoError(t, err)
	require.Equal(t, want, got)
	got, err = s.BlockHash(8)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, got)
}

func TestComplianceBridge(t *testing.T) {
	s, _, _ := newTestStorage(t)
	add, err := compliance.ABI.Pack("addVerificationDetails", alice, uint32(1), uint32(1), uint32(10), []byte{1})
	require.NoError(t, err)
	_, err = s.ComplianceBridge(contract, add, false)
	require.NoError(t, err)

	has, _ := compliance.ABI.Pack("hasVerification", alice, uint32(1), uint32(5), []common.Address{contract})
	out, err := s.ComplianceBridge(contract, has, true)
	require.NoError(t, err)
	require.Equal(t, common.LeftPadBytes([]byte{1}, 32), out)

	_, err = s.ComplianceBridge(contract, []byte{1, 2, 3, 4}, true)
	require.ErrorIs(t, err, ErrHostUnavailable)
}

func TestHostFailure(t *testing.T) {
	km, _ := keymanager.Random()
	failing := QuerierFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("socket closed")
	})
	s := NewStorage(context.Background(), failing, km, Block{})

	_, _, err := s.Account(alice)
	require.ErrorIs(t, err, ErrHostUnavailable)
	require.ErrorIs(t, s.PutNonce(alice, 1), ErrHostUnavailable)

	garbage := QuerierFunc(func(context.Context, []byte) ([]byte, error) { return []byte{0xff}, nil })
	s = NewStorage(context.Background(), garbage, km, Block{})
	_, err = s.Code(alice)
	require.ErrorIs(t, err, ErrHostUnavailable)
}
