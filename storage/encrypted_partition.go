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

// Package storage persists the enclave's sealed artifacts. Files live in a
// directory that Gramine mounts as an encrypted filesystem keyed to the
// enclave identity, so plain file I/O here is transparently sealed.
package storage

import "errors"

var (
	// ErrNotFound is returned when a requested secret does not exist.
	ErrNotFound = errors.New("sealed secret not found")

	// ErrInvalidID is returned for secret ids that would escape the partition.
	ErrInvalidID = errors.New("invalid secret id")
)

// EncryptedPartition manages named secrets inside the encrypted mount.
type EncryptedPartition interface {
	// WriteSecret atomically creates or replaces a secret.
	WriteSecret(id string, data []byte) error

	// ReadSecret reads a secret, returning ErrNotFound if absent.
	ReadSecret(id string) ([]byte, error)

	// HasSecret reports whether a secret exists.
	HasSecret(id string) bool
}

// SealedStore is a single sealed blob, the unit the key manager persists.
type SealedStore interface {
	Exists() bool
	Read() ([]byte, error)
	Write(blob []byte) error
}

// SealedFile binds one secret id of a partition to the SealedStore contract.
type SealedFile struct {
	partition EncryptedPartition
	id        string
}

// NewSealedFile returns the sealed blob stored under id.
func NewSealedFile(partition EncryptedPartition, id string) *SealedFile {
	return &SealedFile{partition: partition, id: id}
}

func (f *SealedFile) Exists() bool            { return f.partition.HasSecret(f.id) }
func (f *SealedFile) Read() ([]byte, error)   { return f.partition.ReadSecret(f.id) }
func (f *SealedFile) Write(blob []byte) error { return f.partition.WriteSecret(f.id, blob) }

// MemoryStore is an in-memory SealedStore for tests and dry runs.
type MemoryStore struct {
	blob []byte
}

func (m *MemoryStore) Exists() bool { return m.blob != nil }

func (m *MemoryStore) Read() ([]byte, error) {
	if m.blob == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.blob...), nil
}

func (m *MemoryStore) Write(blob []byte) error {
	m.blob = append([]byte{}, blob...)
	return nil
}
