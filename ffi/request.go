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

package ffi

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PublicKeyRequest asks for the node public key. A zero block selects the
// latest epoch.
type PublicKeyRequest struct {
	BlockNumber uint64 // 1
}

func (m *PublicKeyRequest) Marshal() []byte { return appendUint64(nil, 1, m.BlockNumber) }

func (m *PublicKeyRequest) Unmarshal(b []byte) error {
	*m = PublicKeyRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeUint64(num, typ, b, &m.BlockNumber)
		}
		return 0, nil
	})
}

// Empty is a message without fields.
type Empty struct{}

func (*Empty) Marshal() []byte { return nil }

func (*Empty) Unmarshal(b []byte) error {
	return consumeFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return 0, nil })
}

// InitializeMasterKeyRequest generates a fresh master key.
type InitializeMasterKeyRequest struct {
	ShouldReset bool // 1
}

func (m *InitializeMasterKeyRequest) Marshal() []byte { return appendBool(nil, 1, m.ShouldReset) }

func (m *InitializeMasterKeyRequest) Unmarshal(b []byte) error {
	*m = InitializeMasterKeyRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBool(num, typ, b, &m.ShouldReset)
		}
		return 0, nil
	})
}

// StartBootstrapServerRequest starts the master key provider.
type StartBootstrapServerRequest struct {
	ListenAddr string // 1, empty for the configured address
}

func (m *StartBootstrapServerRequest) Marshal() []byte { return appendString(nil, 1, m.ListenAddr) }

func (m *StartBootstrapServerRequest) Unmarshal(b []byte) error {
	*m = StartBootstrapServerRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(num, typ, b, &m.ListenAddr)
		}
		return 0, nil
	})
}

// AttestationRequest asks the node to obtain the master key from the
// bootstrap server at Hostname:Port.
type AttestationRequest struct {
	Hostname  string // 1
	Port      uint32 // 2
	ResetFlag bool   // 3
}

func (m *AttestationRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Hostname)
	b = appendUint64(b, 2, uint64(m.Port))
	b = appendBool(b, 3, m.ResetFlag)
	return b
}

func (m *AttestationRequest) Unmarshal(b []byte) error {
	*m = AttestationRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(num, typ, b, &m.Hostname)
		case 2:
			return consumeUint32(num, typ, b, &m.Port)
		case 3:
			return consumeBool(num, typ, b, &m.ResetFlag)
		}
		return 0, nil
	})
}

// AddEpochRequest adds an epoch starting at StartingBlock.
type AddEpochRequest struct {
	StartingBlock uint64 // 1
}

func (m *AddEpochRequest) Marshal() []byte { return appendUint64(nil, 1, m.StartingBlock) }

func (m *AddEpochRequest) Unmarshal(b []byte) error {
	*m = AddEpochRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeUint64(num, typ, b, &m.StartingBlock)
		}
		return 0, nil
	})
}

// Request is the router entry message. Exactly one field is set.
type Request struct {
	Call                 *TransactionRequest          // 1
	Create               *TransactionRequest          // 2
	EstimateGas          *TransactionRequest          // 3
	PublicKey            *PublicKeyRequest            // 4
	NodeStatus           *Empty                       // 5
	InitializeMasterKey  *InitializeMasterKeyRequest  // 6
	StartBootstrapServer *StartBootstrapServerRequest // 7
	EPIDAttestation      *AttestationRequest          // 8
	DCAPAttestation      *AttestationRequest          // 9
	IsInitialized        *Empty                       // 10
	AddEpoch             *AddEpochRequest             // 11
	RemoveLatestEpoch    *Empty                       // 12
	ListEpochs           *Empty                       // 13
}

type requestField struct {
	num  protowire.Number
	name string
	msg  Message
}

func (m *Request) fields() []requestField {
	var out []requestField
	add := func(num protowire.Number, name string, present bool, msg Message) {
		if present {
			out = append(out, requestField{num, name, msg})
		}
	}
	add(1, "call", m.Call != nil, m.Call)
	add(2, "create", m.Create != nil, m.Create)
	add(3, "estimateGas", m.EstimateGas != nil, m.EstimateGas)
	add(4, "publicKey", m.PublicKey != nil, m.PublicKey)
	add(5, "nodeStatus", m.NodeStatus != nil, m.NodeStatus)
	add(6, "initializeMasterKey", m.InitializeMasterKey != nil, m.InitializeMasterKey)
	add(7, "startBootstrapServer", m.StartBootstrapServer != nil, m.StartBootstrapServer)
	add(8, "epidAttestation", m.EPIDAttestation != nil, m.EPIDAttestation)
	add(9, "dcapAttestation", m.DCAPAttestation != nil, m.DCAPAttestation)
	add(10, "isInitialized", m.IsInitialized != nil, m.IsInitialized)
	add(11, "addEpoch", m.AddEpoch != nil, m.AddEpoch)
	add(12, "removeLatestEpoch", m.RemoveLatestEpoch != nil, m.RemoveLatestEpoch)
	add(13, "listEpochs", m.ListEpochs != nil, m.ListEpochs)
	return out
}

// Kind names the populated oneof member, or "unknown".
func (m *Request) Kind() string {
	if f := m.fields(); len(f) == 1 {
		return f[0].name
	}
	return "unknown"
}

func (m *Request) Marshal() []byte {
	var b []byte
	for _, f := range m.fields() {
		b = appendMessage(b, f.num, f.msg)
	}
	return b
}

func (m *Request) Unmarshal(b []byte) error {
	*m = Request{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			m.Call = new(TransactionRequest)
			return consumeMessage(num, typ, b, m.Call)
		case 2:
			m.Create = new(TransactionRequest)
			return consumeMessage(num, typ, b, m.Create)
		case 3:
			m.EstimateGas = new(TransactionRequest)
			return consumeMessage(num, typ, b, m.EstimateGas)
		case 4:
			m.PublicKey = new(PublicKeyRequest)
			return consumeMessage(num, typ, b, m.PublicKey)
		case 5:
			m.NodeStatus = new(Empty)
			return consumeMessage(num, typ, b, m.NodeStatus)
		case 6:
			m.InitializeMasterKey = new(InitializeMasterKeyRequest)
			return consumeMessage(num, typ, b, m.InitializeMasterKey)
		case 7:
			m.StartBootstrapServer = new(StartBootstrapServerRequest)
			return consumeMessage(num, typ, b, m.StartBootstrapServer)
		case 8:
			m.EPIDAttestation = new(AttestationRequest)
			return consumeMessage(num, typ, b, m.EPIDAttestation)
		case 9:
			m.DCAPAttestation = new(AttestationRequest)
			return consumeMessage(num, typ, b, m.DCAPAttestation)
		case 10:
			m.IsInitialized = new(Empty)
			return consumeMessage(num, typ, b, m.IsInitialized)
		case 11:
			m.AddEpoch = new(AddEpochRequest)
			return consumeMessage(num, typ, b, m.AddEpoch)
		case 12:
			m.RemoveLatestEpoch = new(Empty)
			return consumeMessage(num, typ, b, m.RemoveLatestEpoch)
		case 13:
			m.ListEpochs = new(Empty)
			return consumeMessage(num, typ, b, m.ListEpochs)
		}
		return 0, nil
	})
	if err != nil {
		return err
	}
	if n := len(m.fields()); n != 1 {
		return fmt.Errorf("%w: request sets %d oneof members", ErrBadPayload, n)
	}
	return nil
}
