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

package backend

import (
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/swisstronik/evm-enclave/core/host"
)

// AccountChange is the net effect of a transaction on one account. Nil
// fields are unchanged.
type AccountChange struct {
	Address common.Address
	Balance *uint256.Int
	Nonce   *uint64
	Code    []byte
	// CodeSet distinguishes an empty deployed code from an untouched one.
	CodeSet bool
	// ResetStorage drops every stored cell before Storage is applied.
	ResetStorage bool
	Storage      map[common.Hash]common.Hash
}

// ChangeSet is the collapsed overlay of a finished transaction.
type ChangeSet struct {
	Accounts []*AccountChange
	Deletes  []common.Address
	Logs     []*types.Log
}

// Empty reports whether applying the changeset would write anything.
func (c *ChangeSet) Empty() bool {
	return len(c.Accounts) == 0 && len(c.Deletes) == 0
}

// Deconstruct collapses the root frame into a changeset. Any substates still
// pushed are ignored.
func (b *Backend) Deconstruct() *ChangeSet {
	root := b.substate
	for root.parent != nil {
		root = root.parent
	}
	changes := make(map[common.Address]*AccountChange)
	get := func(addr common.Address) *AccountChange {
		if c, ok := changes[addr]; ok {
			return c
		}
		c := &AccountChange{Address: addr, Storage: make(map[common.Hash]common.Hash)}
		changes[addr] = c
		return c
	}
	for addr, bal := range root.balances {
		get(addr).Balance = bal
	}
	for addr, nonce := range root.nonces {
		n := nonce
		get(addr).Nonce = &n
	}
	for addr, code := range root.codes {
		c := get(addr)
		c.Code, c.CodeSet = code, true
	}
	for key, value := range root.storages {
		get(key.addr).Storage[key.slot] = value
	}
	for addr := range root.resetStorage {
		c := get(addr)
		c.ResetStorage = true
		// The host drops the whole account on reset, so the surviving
		// fields have to be written back in full.
		if c.Balance == nil {
			c.Balance = b.chainAccount(addr).balance
		}
		if c.Nonce == nil {
			n := b.chainAccount(addr).nonce
			c.Nonce = &n
		}
		if !c.CodeSet {
			c.Code, c.CodeSet = b.chainCode(addr), true
		}
	}
	set := &ChangeSet{Logs: b.Logs()}
	for addr := range root.deletes {
		set.Deletes = append(set.Deletes, addr)
		delete(changes, addr)
	}
	for _, c := range changes {
		set.Accounts = append(set.Accounts, c)
	}
	slices.SortFunc(set.Deletes, func(x, y common.Address) int { return bytes.Compare(x[:], y[:]) })
	slices.SortFunc(set.Accounts, func(x, y *AccountChange) int { return bytes.Compare(x.Address[:], y.Address[:]) })
	return set
}

// Apply writes the changeset through w. Storage cells set to zero are
// removed.
func (c *ChangeSet) Apply(w host.StateWriter) error {
	for _, addr := range c.Deletes {
		if err := w.Remove(addr); err != nil {
			return err
		}
	}
	for _, acc := range c.Accounts {
		if acc.ResetStorage {
			if err := w.Remove(acc.Address); err != nil {
				return err
			}
		}
		if acc.Balance != nil {
			if err := w.PutBalance(acc.Address, acc.Balance); err != nil {
				return err
			}
		}
		if acc.Nonce != nil {
			if err := w.PutNonce(acc.Address, *acc.Nonce); err != nil {
				return err
			}
		}
		if acc.CodeSet {
			if err := w.PutCode(acc.Address, acc.Code); err != nil {
				return err
			}
		}
		slots := make([]common.Hash, 0, len(acc.Storage))
		for slot := range acc.Storage {
			slots = append(slots, slot)
		}
		slices.SortFunc(slots, func(x, y common.Hash) int { return bytes.Compare(x[:], y[:]) })
		for _, slot := range slots {
			value := acc.Storage[slot]
			var err error
			if value == (common.Hash{}) {
				err = w.RemoveStorage(acc.Address, slot)
			} else {
				err = w.PutStorage(acc.Address, slot, value)
			}
			if err != nil {
				return err
			}
		}
	}
	log.Debug("Applied changeset", "accounts", len(c.Accounts), "deletes", len(c.Deletes), "logs", len(c.Logs))
	return nil
}
