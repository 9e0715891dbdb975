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
	"google.golang.org/protobuf/encoding/protowire"
)

// Status is the numeric outcome carried on every Response.
type Status uint32

const (
	StatusOK Status = iota
	StatusInternal
	StatusNotInitialized
	StatusAlreadyInitialized
	StatusBusy
	StatusBadPayload
	StatusCorruptCiphertext
	StatusHostUnavailable
	StatusAttestationFailed
	StatusInvalidEpoch
)

var statusNames = map[Status]string{
	StatusOK:                 "ok",
	StatusInternal:           "internal",
	StatusNotInitialized:     "not_initialized",
	StatusAlreadyInitialized: "already_initialized",
	StatusBusy:               "busy",
	StatusBadPayload:         "bad_payload",
	StatusCorruptCiphertext:  "corrupt_ciphertext",
	StatusHostUnavailable:    "host_unavailable",
	StatusAttestationFailed:  "attestation_failed",
	StatusInvalidEpoch:       "invalid_epoch",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// PublicKeyResponse carries an X25519 node public key.
type PublicKeyResponse struct {
	PublicKey []byte // 1
}

func (m *PublicKeyResponse) Marshal() []byte { return appendBytes(nil, 1, m.PublicKey) }

func (m *PublicKeyResponse) Unmarshal(b []byte) error {
	*m = PublicKeyResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBytes(num, typ, b, &m.PublicKey)
		}
		return 0, nil
	})
}

// EpochMessage is the public view of one epoch.
type EpochMessage struct {
	Number        uint32 // 1
	StartingBlock uint64 // 2
	PublicKey     []byte // 3
}

func (m *EpochMessage) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, uint64(m.Number))
	b = appendUint64(b, 2, m.StartingBlock)
	b = appendBytes(b, 3, m.PublicKey)
	return b
}

func (m *EpochMessage) Unmarshal(b []byte) error {
	*m = EpochMessage{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(num, typ, b, &m.Number)
		case 2:
			return consumeUint64(num, typ, b, &m.StartingBlock)
		case 3:
			return consumeBytes(num, typ, b, &m.PublicKey)
		}
		return 0, nil
	})
}

// EpochsResponse lists epochs oldest first.
type EpochsResponse struct {
	Epochs []*EpochMessage // 1
}

func (m *EpochsResponse) Marshal() []byte {
	var b []byte
	for _, e := range m.Epochs {
		b = appendMessage(b, 1, e)
	}
	return b
}

func (m *EpochsResponse) Unmarshal(b []byte) error {
	*m = EpochsResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			e := new(EpochMessage)
			n, err := consumeMessage(num, typ, b, e)
			if err == nil {
				m.Epochs = append(m.Epochs, e)
			}
			return n, err
		}
		return 0, nil
	})
}

// NodeStatusResponse describes the enclave.
type NodeStatusResponse struct {
	Initialized bool   // 1
	PublicKey   []byte // 2
	MREnclave   []byte // 3
	Epochs      uint32 // 4
	Certificate []byte // 5, DER RA-TLS certificate binding PublicKey
	Version     string // 6
}

func (m *NodeStatusResponse) Marshal() []byte {
	var b []byte
	b = appendBool(b, 1, m.Initialized)
	b = appendBytes(b, 2, m.PublicKey)
	b = appendBytes(b, 3, m.MREnclave)
	b = appendUint64(b, 4, uint64(m.Epochs))
	b = appendBytes(b, 5, m.Certificate)
	b = appendString(b, 6, m.Version)
	return b
}

func (m *NodeStatusResponse) Unmarshal(b []byte) error {
	*m = NodeStatusResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBool(num, typ, b, &m.Initialized)
		case 2:
			return consumeBytes(num, typ, b, &m.PublicKey)
		case 3:
			return consumeBytes(num, typ, b, &m.MREnclave)
		case 4:
			return consumeUint32(num, typ, b, &m.Epochs)
		case 5:
			return consumeBytes(num, typ, b, &m.Certificate)
		case 6:
			return consumeString(num, typ, b, &m.Version)
		}
		return 0, nil
	})
}

// IsInitializedResponse reports whether a master key is sealed.
type IsInitializedResponse struct {
	Initialized bool // 1
}

func (m *IsInitializedResponse) Marshal() []byte { return appendBool(nil, 1, m.Initialized) }

func (m *IsInitializedResponse) Unmarshal(b []byte) error {
	*m = IsInitializedResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBool(num, typ, b, &m.Initialized)
		}
		return 0, nil
	})
}

// BootstrapServerResponse carries the address the provider listens on.
type BootstrapServerResponse struct {
	ListenAddr string // 1
}

func (m *BootstrapServerResponse) Marshal() []byte { return appendString(nil, 1, m.ListenAddr) }

func (m *BootstrapServerResponse) Unmarshal(b []byte) error {
	*m = BootstrapServerResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(num, typ, b, &m.ListenAddr)
		}
		return 0, nil
	})
}

// Response is the router reply. A non-OK status carries no payload.
type Response struct {
	Status          Status                   // 1
	Error           string                   // 2
	Transaction     *TransactionResponse     // 3
	PublicKey       *PublicKeyResponse       // 4
	NodeStatus      *NodeStatusResponse      // 5
	IsInitialized   *IsInitializedResponse   // 6
	Epochs          *EpochsResponse          // 7
	BootstrapServer *BootstrapServerResponse // 8
}

func (m *Response) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, uint64(m.Status))
	b = appendString(b, 2, m.Error)
	if m.Transaction != nil {
		b = appendMessage(b, 3, m.Transaction)
	}
	if m.PublicKey != nil {
		b = appendMessage(b, 4, m.PublicKey)
	}
	if m.NodeStatus != nil {
		b = appendMessage(b, 5, m.NodeStatus)
	}
	if m.IsInitialized != nil {
		b = appendMessage(b, 6, m.IsInitialized)
	}
	if m.Epochs != nil {
		b = appendMessage(b, 7, m.Epochs)
	}
	if m.BootstrapServer != nil {
		b = appendMessage(b, 8, m.BootstrapServer)
	}
	return b
}

func (m *Response) Unmarshal(b []byte) error {
	*m = Response{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var s uint32
			n, err := consumeUint32(num, typ, b, &s)
			m.Status = Status(s)
			return n, err
		case 2:
			return consumeString(num, typ, b, &m.Error)
		case 3:
			m.Transaction = new(TransactionResponse)
			return consumeMessage(num, typ, b, m.Transaction)
		case 4:
			m.PublicKey = new(PublicKeyResponse)
			return consumeMessage(num, typ, b, m.PublicKey)
		case 5:
			m.NodeStatus = new(NodeStatusResponse)
			return consumeMessage(num, typ, b, m.NodeStatus)
		case 6:
			m.IsInitialized = new(IsInitializedResponse)
			return consumeMessage(num, typ, b, m.IsInitialized)
		case 7:
			m.Epochs = new(EpochsResponse)
			return consumeMessage(num, typ, b, m.Epochs)
		case 8:
			m.BootstrapServer = new(BootstrapServerResponse)
			return consumeMessage(num, typ, b, m.BootstrapServer)
		}
		return 0, nil
	})
}
