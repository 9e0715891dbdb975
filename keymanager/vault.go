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

package keymanager

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/swisstronik/evm-enclave/storage"
)

// Vault is the single owner of the unsealed key manager. The sealed file is
// read on first use and cached; replacements are written through to the
// store before they become visible.
type Vault struct {
	mu    sync.RWMutex
	store storage.SealedStore
	km    *KeyManager
}

// NewVault returns a vault over store. Nothing is read until first use.
func NewVault(store storage.SealedStore) *Vault {
	return &Vault{store: store}
}

// IsInitialized reports whether a master key is cached or sealed.
func (v *Vault) IsInitialized() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.km != nil || v.store.Exists()
}

// KeyManager returns the unsealed key manager, unsealing it on first use.
func (v *Vault) KeyManager() (*KeyManager, error) {
	v.mu.RLock()
	km := v.km
	v.mu.RUnlock()
	if km != nil {
		return km, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.km != nil {
		return v.km, nil
	}
	km, err := Unseal(v.store)
	if err != nil {
		return nil, err
	}
	v.km = km
	return km, nil
}

// Initialize generates and seals a fresh master key. An existing key is only
// replaced when reset is set.
func (v *Vault) Initialize(reset bool) (*KeyManager, error) {
	km, err := Random()
	if err != nil {
		return nil, err
	}
	if err := v.Install(km, reset); err != nil {
		return nil, err
	}
	return km, nil
}

// Install seals km and makes it current. It is used for provisioning from a
// peer as well as for local initialization.
func (v *Vault) Install(km *KeyManager, reset bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !reset && (v.km != nil || v.store.Exists()) {
		return ErrAlreadyInitialized
	}
	if err := km.Seal(v.store); err != nil {
		return err
	}
	if v.km != nil {
		log.Warn("Replaced master key", "epochs", len(km.epochs))
	}
	v.km = km
	return nil
}

// Update applies fn to the current key manager and seals the result.
func (v *Vault) Update(fn func(*KeyManager) (*KeyManager, error)) (*KeyManager, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	current := v.km
	if current == nil {
		km, err := Unseal(v.store)
		if err != nil {
			return nil, err
		}
		current = km
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if err := next.Seal(v.store); err != nil {
		return nil, err
	}
	v.km = next
	return next, nil
}
