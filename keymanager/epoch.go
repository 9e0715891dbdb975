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
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/swisstronik/evm-enclave/internal/primitives"
)

var (
	// ErrNoEpoch is returned when no epoch covers the requested block.
	ErrNoEpoch = errors.New("no epoch covers block")

	// ErrInvalidEpoch is returned for epochs that would break ordering.
	ErrInvalidEpoch = errors.New("invalid epoch")
)

// Epoch is one generation of the key hierarchy. Transaction and state keys
// are derived from Key, and the epoch applies from StartingBlock until the
// next epoch starts.
type Epoch struct {
	Number        uint16
	Key           [primitives.KeySize]byte
	StartingBlock uint64
}

type epochJSON struct {
	Number        uint16        `json:"epoch_number"`
	Key           hexutil.Bytes `json:"epoch_key"`
	StartingBlock uint64        `json:"starting_block"`
}

type managerJSON struct {
	Epochs []epochJSON `json:"epochs"`
}

// EpochInfo is the public view of an epoch.
type EpochInfo struct {
	Number        uint16        `json:"epoch_number"`
	StartingBlock uint64        `json:"starting_block"`
	PublicKey     hexutil.Bytes `json:"public_key"`
}

// epochKeys caches the keys derived from one epoch key.
type epochKeys struct {
	epoch    Epoch
	txKey    [primitives.KeySize]byte
	txPub    [primitives.PublicKeySize]byte
	stateKey [primitives.KeySize]byte
}

func deriveEpoch(e Epoch) *epochKeys {
	k := &epochKeys{
		epoch:    e,
		txKey:    primitives.Derive(e.Key[:], primitives.TxKeyLabel),
		stateKey: primitives.Derive(e.Key[:], primitives.StateKeyLabel),
	}
	k.txPub = primitives.X25519PublicKey(k.txKey)
	return k
}

// encodeEpochs serializes epochs in the sealed JSON form.
func encodeEpochs(epochs []*epochKeys) ([]byte, error) {
	out := managerJSON{Epochs: make([]epochJSON, 0, len(epochs))}
	for _, e := range epochs {
		out.Epochs = append(out.Epochs, epochJSON{
			Number:        e.epoch.Number,
			Key:           append(hexutil.Bytes(nil), e.epoch.Key[:]...),
			StartingBlock: e.epoch.StartingBlock,
		})
	}
	return json.Marshal(out)
}

// decodeEpochs accepts both a raw legacy master key and the JSON form.
func decodeEpochs(blob []byte) ([]Epoch, error) {
	if len(blob) == primitives.KeySize {
		var e Epoch
		copy(e.Key[:], blob)
		return []Epoch{e}, nil
	}
	var in managerJSON
	if err := json.Unmarshal(blob, &in); err != nil {
		return nil, fmt.Errorf("failed to decode sealed key manager: %w", err)
	}
	if len(in.Epochs) == 0 {
		return nil, fmt.Errorf("%w: sealed key manager has no epochs", ErrInvalidEpoch)
	}
	epochs := make([]Epoch, 0, len(in.Epochs))
	for _, e := range in.Epochs {
		if len(e.Key) != primitives.KeySize {
			return nil, fmt.Errorf("%w: epoch %d key has %d bytes", ErrInvalidEpoch, e.Number, len(e.Key))
		}
		var epoch Epoch
		epoch.Number = e.Number
		epoch.StartingBlock = e.StartingBlock
		copy(epoch.Key[:], e.Key)
		epochs = append(epochs, epoch)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i].StartingBlock < epochs[j].StartingBlock })
	for i := 1; i < len(epochs); i++ {
		if epochs[i].StartingBlock == epochs[i-1].StartingBlock {
			return nil, fmt.Errorf("%w: epochs %d and %d start at the same block", ErrInvalidEpoch, epochs[i-1].Number, epochs[i].Number)
		}
		if epochs[i].Number <= epochs[i-1].Number {
			return nil, fmt.Errorf("%w: epoch numbers are not increasing", ErrInvalidEpoch)
		}
	}
	return epochs, nil
}
