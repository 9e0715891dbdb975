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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// MergeStrategy selects how a popped substate is folded into its parent.
type MergeStrategy uint8

const (
	// Commit overlays the frame onto its parent.
	Commit MergeStrategy = iota
	// Revert drops the frame after a revert or an exceptional halt.
	Revert
	// Discard drops the frame without any outcome attached to it.
	Discard
)

func (s MergeStrategy) String() string {
	switch s {
	case Commit:
		return "commit"
	case Revert:
		return "revert"
	case Discard:
		return "discard"
	}
	return "unknown"
}

type storageKey struct {
	addr common.Address
	slot common.Hash
}

// substate is one frame of the overlay. Every map only holds what changed
// in this frame; reads fall through to the parent.
type substate struct {
	parent *substate

	logs         []*types.Log
	balances     map[common.Address]*uint256.Int
	nonces       map[common.Address]uint64
	codes        map[common.Address][]byte
	storages     map[storageKey]common.Hash
	transient    map[storageKey]common.Hash
	resetStorage map[common.Address]struct{}
	deletes      map[common.Address]struct{}
	created      map[common.Address]struct{}
	refund       int64
}

func newSubstate(parent *substate) *substate {
	return &substate{
		parent:       parent,
		balances:     make(map[common.Address]*uint256.Int),
		nonces:       make(map[common.Address]uint64),
		codes:        make(map[common.Address][]byte),
		storages:     make(map[storageKey]common.Hash),
		transient:    make(map[storageKey]common.Hash),
		resetStorage: make(map[common.Address]struct{}),
		deletes:      make(map[common.Address]struct{}),
		created:      make(map[common.Address]struct{}),
	}
}

func (s *substate) known(addr common.Address) bool {
	for frame := s; frame != nil; frame = frame.parent {
		if _, ok := frame.balances[addr]; ok {
			return true
		}
		if _, ok := frame.nonces[addr]; ok {
			return true
		}
		if _, ok := frame.codes[addr]; ok {
			return true
		}
	}
	return false
}

func (s *substate) balance(addr common.Address) (*uint256.Int, bool) {
	for frame := s; frame != nil; frame = frame.parent {
		if bal, ok := frame.balances[addr]; ok {
			return bal, true
		}
	}
	return nil, false
}

func (s *substate) nonce(addr common.Address) (uint64, bool) {
	for frame := s; frame != nil; frame = frame.parent {
		if nonce, ok := frame.nonces[addr]; ok {
			return nonce, true
		}
	}
	return 0, false
}

func (s *substate) code(addr common.Address) ([]byte, bool) {
	for frame := s; frame != nil; frame = frame.parent {
		if code, ok := frame.codes[addr]; ok {
			return code, true
		}
	}
	return nil, false
}

// storage returns the overlaid value of a cell. The second result is false
// when the chain store has to be consulted.
func (s *substate) storage(addr common.Address, slot common.Hash) (common.Hash, bool) {
	key := storageKey{addr, slot}
	for frame := s; frame != nil; frame = frame.parent {
		if value, ok := frame.storages[key]; ok {
			return value, true
		}
		if _, ok := frame.resetStorage[addr]; ok {
			return common.Hash{}, true
		}
	}
	return common.Hash{}, false
}

func (s *substate) transientStorage(addr common.Address, slot common.Hash) common.Hash {
	key := storageKey{addr, slot}
	for frame := s; frame != nil; frame = frame.parent {
		if value, ok := frame.transient[key]; ok {
			return value
		}
	}
	return common.Hash{}
}

func (s *substate) deleted(addr common.Address) bool {
	for frame := s; frame != nil; frame = frame.parent {
		if _, ok := frame.deletes[addr]; ok {
			return true
		}
	}
	return false
}

func (s *substate) createdInTx(addr common.Address) bool {
	for frame := s; frame != nil; frame = frame.parent {
		if _, ok := frame.created[addr]; ok {
			return true
		}
	}
	return false
}

func (s *substate) totalRefund() int64 {
	var total int64
	for frame := s; frame != nil; frame = frame.parent {
		total += frame.refund
	}
	return total
}

// commitInto overlays the frame onto parent: logs are appended in order,
// sets are unioned and maps are overwritten.
func (s *substate) commitInto(parent *substate) {
	parent.logs = append(parent.logs, s.logs...)
	for addr := range s.resetStorage {
		parent.resetStorage[addr] = struct{}{}
		for key := range parent.storages {
			if key.addr == addr {
				delete(parent.storages, key)
			}
		}
	}
	for addr, bal := range s.balances {
		parent.balances[addr] = bal
	}
	for addr, nonce := range s.nonces {
		parent.nonces[addr] = nonce
	}
	for addr, code := range s.codes {
		parent.codes[addr] = code
	}
	for key, value := range s.storages {
		parent.storages[key] = value
	}
	for key, value := range s.transient {
		parent.transient[key] = value
	}
	for addr := range s.deletes {
		parent.deletes[addr] = struct{}{}
	}
	for addr := range s.created {
		parent.created[addr] = struct{}{}
	}
	parent.refund += s.refund
}
