// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package keymanager owns the node key hierarchy. A master key (one per
// epoch) derives the transaction key used for X25519 agreement with clients
// and the state key from which every contract's storage key is derived.
package keymanager

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/swisstronik/evm-enclave/internal/primitives"
	"github.com/swisstronik/evm-enclave/storage"
)

var (
	// ErrNotInitialized is returned when no sealed master key is available.
	ErrNotInitialized = errors.New("key manager not initialized")

	// ErrAlreadyInitialized is returned when initialization would replace
	// an existing master key without an explicit reset.
	ErrAlreadyInitialized = errors.New("key manager already initialized")

	// ErrCorruptCiphertext is returned when a payload or storage cell fails
	// authentication under every known epoch.
	ErrCorruptCiphertext = errors.New("corrupt ciphertext")
)

// EmptyCell is the reserved ciphertext marking an uninitialized storage cell.
var EmptyCell = make([]byte, common.HashLength)

// KeyManager holds the unsealed epochs. It is immutable apart from the epoch
// operations, which callers must serialize with transaction execution.
type KeyManager struct {
	epochs []*epochKeys // ascending by starting block, never empty
}

func newKeyManager(epochs []Epoch) *KeyManager {
	km := &KeyManager{epochs: make([]*epochKeys, 0, len(epochs))}
	for _, e := range epochs {
		km.epochs = append(km.epochs, deriveEpoch(e))
	}
	return km
}

// Random creates a key manager with a fresh master key as epoch 0.
func Random() (*KeyManager, error) {
	key, err := primitives.RandomKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return newKeyManager([]Epoch{{Key: key}}), nil
}

// FromMasterKey builds a single-epoch key manager around a known key.
func FromMasterKey(key [primitives.KeySize]byte) *KeyManager {
	return newKeyManager([]Epoch{{Key: key}})
}

// Decode parses a sealed key manager, raw or JSON.
func Decode(blob []byte) (*KeyManager, error) {
	epochs, err := decodeEpochs(blob)
	if err != nil {
		return nil, err
	}
	return newKeyManager(epochs), nil
}

// Encode returns the sealed JSON form.
func (km *KeyManager) Encode() ([]byte, error) {
	return encodeEpochs(km.epochs)
}

// Exists reports whether a sealed master key is present.
func Exists(store storage.SealedStore) bool {
	return store.Exists()
}

// Unseal reads and decodes the sealed key manager.
func Unseal(store storage.SealedStore) (*KeyManager, error) {
	blob, err := store.Read()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sealed key manager: %w", err)
	}
	km, err := Decode(blob)
	if err != nil {
		return nil, err
	}
	log.Debug("Unsealed key manager", "epochs", len(km.epochs))
	return km, nil
}

// Seal persists the key manager to store.
func (km *KeyManager) Seal(store storage.SealedStore) error {
	blob, err := km.Encode()
	if err != nil {
		return err
	}
	if err := store.Write(blob); err != nil {
		return fmt.Errorf("failed to seal key manager: %w", err)
	}
	log.Info("Sealed key manager", "epochs", len(km.epochs))
	return nil
}

// Equal reports whether two key managers hold identical epochs.
func (km *KeyManager) Equal(other *KeyManager) bool {
	if len(km.epochs) != len(other.epochs) {
		return false
	}
	for i := range km.epochs {
		a, b := km.epochs[i].epoch, other.epochs[i].epoch
		if a.Number != b.Number || a.StartingBlock != b.StartingBlock || !bytes.Equal(a.Key[:], b.Key[:]) {
			return false
		}
	}
	return true
}

func (km *KeyManager) latest() *epochKeys {
	return km.epochs[len(km.epochs)-1]
}

// epochFor returns the epoch with the largest starting block not above block.
func (km *KeyManager) epochFor(block uint64) (*epochKeys, error) {
	for i := len(km.epochs) - 1; i >= 0; i-- {
		if km.epochs[i].epoch.StartingBlock <= block {
			return km.epochs[i], nil
		}
	}
	return nil, fmt.Errorf("%w %d", ErrNoEpoch, block)
}

func (km *KeyManager) epochByNumber(number uint16) (*epochKeys, error) {
	for _, e := range km.epochs {
		if e.epoch.Number == number {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown epoch %d", ErrInvalidEpoch, number)
}

// PublicKey returns the X25519 public key of the latest transaction key.
func (km *KeyManager) PublicKey() [primitives.PublicKeySize]byte {
	return km.latest().txPub
}

// PublicKeyAt returns the node public key valid at block.
func (km *KeyManager) PublicKeyAt(block uint64) ([primitives.PublicKeySize]byte, error) {
	e, err := km.epochFor(block)
	if err != nil {
		return [primitives.PublicKeySize]byte{}, err
	}
	return e.txPub, nil
}

// EncryptForClient encrypts plaintext for the holder of userPub with the
// latest epoch's transaction key.
func (km *KeyManager) EncryptForClient(plaintext, userPub []byte, nonce [primitives.NonceSize]byte) ([]byte, error) {
	return km.EncryptForClientEpoch(km.latest().epoch.Number, plaintext, userPub, nonce)
}

// EncryptForClientEpoch encrypts plaintext with the given epoch's key.
func (km *KeyManager) EncryptForClientEpoch(epoch uint16, plaintext, userPub []byte, nonce [primitives.NonceSize]byte) ([]byte, error) {
	e, err := km.epochByNumber(epoch)
	if err != nil {
		return nil, err
	}
	key, err := primitives.SharedKey(e.txKey, userPub)
	if err != nil {
		return nil, err
	}
	return primitives.EncryptWithNonce(key[:], plaintext, nonce)
}

// DecryptFromClient decrypts a client payload, trying epochs newest first.
func (km *KeyManager) DecryptFromClient(ciphertext, userPub []byte) ([]byte, error) {
	plaintext, _, err := km.DecryptFromClientEpoch(ciphertext, userPub)
	return plaintext, err
}

// DecryptFromClientEpoch is DecryptFromClient that also reports which
// epoch's key opened the payload, so the reply can be sealed with it.
func (km *KeyManager) DecryptFromClientEpoch(ciphertext, userPub []byte) ([]byte, uint16, error) {
	for i := len(km.epochs) - 1; i >= 0; i-- {
		e := km.epochs[i]
		key, err := primitives.SharedKey(e.txKey, userPub)
		if err != nil {
			return nil, 0, err
		}
		plaintext, err := primitives.Decrypt(key[:], ciphertext)
		if err == nil {
			return plaintext, e.epoch.Number, nil
		}
		if errors.Is(err, primitives.ErrCiphertextTooShort) {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruptCiphertext, err)
		}
	}
	return nil, 0, ErrCorruptCiphertext
}

func contractKey(stateKey [primitives.KeySize]byte, contract common.Address) [primitives.KeySize]byte {
	return primitives.Derive(stateKey[:], contract.Bytes())
}

// EncryptStorage encrypts a storage value of contract with the key of the
// epoch covering block. The nonce is expanded from salt, so identical inputs
// produce identical cells.
func (km *KeyManager) EncryptStorage(block uint64, contract common.Address, salt common.Hash, plaintext []byte) ([]byte, error) {
	e, err := km.epochFor(block)
	if err != nil {
		return nil, err
	}
	key := contractKey(e.stateKey, contract)
	nonce, ad, err := primitives.SaltedNonce(key, salt)
	if err != nil {
		return nil, err
	}
	return primitives.Seal(key[:], nonce, ad, plaintext)
}

// DecryptStorage decrypts a storage cell of contract. The reserved empty
// cell is returned verbatim.
func (km *KeyManager) DecryptStorage(contract common.Address, ciphertext []byte) ([]byte, error) {
	if bytes.Equal(ciphertext, EmptyCell) {
		return common.CopyBytes(ciphertext), nil
	}
	if len(ciphertext) < primitives.Overhead {
		return nil, fmt.Errorf("%w: storage cell of %d bytes", ErrCorruptCiphertext, len(ciphertext))
	}
	for i := len(km.epochs) - 1; i >= 0; i-- {
		key := contractKey(km.epochs[i].stateKey, contract)
		if plaintext, err := primitives.Decrypt(key[:], ciphertext); err == nil {
			return plaintext, nil
		}
	}
	return nil, fmt.Errorf("%w: storage cell of %s", ErrCorruptCiphertext, contract)
}

// WrapForPeer encrypts the sealed form of the key manager for a peer that
// registered peerPub, using the local registration scalar regKey.
func (km *KeyManager) WrapForPeer(regKey [primitives.KeySize]byte, peerPub []byte) ([]byte, error) {
	key, err := primitives.SharedKey(regKey, peerPub)
	if err != nil {
		return nil, err
	}
	blob, err := km.Encode()
	if err != nil {
		return nil, err
	}
	return primitives.Encrypt(key[:], blob)
}

// UnwrapFromPeer reverses WrapForPeer.
func UnwrapFromPeer(regKey [primitives.KeySize]byte, peerPub, wrapped []byte) (*KeyManager, error) {
	key, err := primitives.SharedKey(regKey, peerPub)
	if err != nil {
		return nil, err
	}
	blob, err := primitives.Decrypt(key[:], wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCiphertext, err)
	}
	return Decode(blob)
}

// Epochs returns the public view of all epochs, oldest first.
func (km *KeyManager) Epochs() []EpochInfo {
	out := make([]EpochInfo, 0, len(km.epochs))
	for _, e := range km.epochs {
		out = append(out, EpochInfo{
			Number:        e.epoch.Number,
			StartingBlock: e.epoch.StartingBlock,
			PublicKey:     append(hexutil.Bytes(nil), e.txPub[:]...),
		})
	}
	return out
}

// AddEpoch returns a copy of the key manager with a fresh epoch starting at
// startingBlock, which must be after the latest epoch's start.
func (km *KeyManager) AddEpoch(startingBlock uint64) (*KeyManager, EpochInfo, error) {
	last := km.latest().epoch
	if startingBlock <= last.StartingBlock {
		return nil, EpochInfo{}, fmt.Errorf("%w: starting block %d not after %d", ErrInvalidEpoch, startingBlock, last.StartingBlock)
	}
	if last.Number == ^uint16(0) {
		return nil, EpochInfo{}, fmt.Errorf("%w: epoch numbers exhausted", ErrInvalidEpoch)
	}
	key, err := primitives.RandomKey()
	if err != nil {
		return nil, EpochInfo{}, err
	}
	next := &KeyManager{epochs: append(append([]*epochKeys(nil), km.epochs...), deriveEpoch(Epoch{
		Number:        last.Number + 1,
		Key:           key,
		StartingBlock: startingBlock,
	}))}
	info := next.Epochs()[len(next.epochs)-1]
	return next, info, nil
}

// RemoveLatestEpoch returns a copy without the latest epoch. The first
// epoch cannot be removed.
func (km *KeyManager) RemoveLatestEpoch() (*KeyManager, error) {
	if len(km.epochs) == 1 {
		return nil, fmt.Errorf("%w: cannot remove the only epoch", ErrInvalidEpoch)
	}
	return &KeyManager{epochs: append([]*epochKeys(nil), km.epochs[:len(km.epochs)-1]...)}, nil
}
