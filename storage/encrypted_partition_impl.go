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

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
)

const lockFileName = ".swtr.lock"

// EncryptedPartitionImpl implements EncryptedPartition on a directory
// configured in the Gramine manifest as an encrypted mount.
type EncryptedPartitionImpl struct {
	mu       sync.RWMutex
	basePath string
	flock    *flock.Flock
}

// NewEncryptedPartition opens the partition rooted at basePath, creating the
// directory if needed.
func NewEncryptedPartition(basePath string) (*EncryptedPartitionImpl, error) {
	if basePath == "" {
		return nil, errors.New("encrypted partition path is empty")
	}
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create encrypted partition %s: %w", basePath, err)
	}
	return &EncryptedPartitionImpl{
		basePath: basePath,
		flock:    flock.New(filepath.Join(basePath, lockFileName)),
	}, nil
}

// Path returns the partition root.
func (ep *EncryptedPartitionImpl) Path() string { return ep.basePath }

func (ep *EncryptedPartitionImpl) secretPath(id string) (string, error) {
	if id == "" || id == lockFileName || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(ep.basePath, id), nil
}

// WriteSecret writes data to a temporary file, syncs it and renames it over
// the target so readers never observe a partial secret.
func (ep *EncryptedPartitionImpl) WriteSecret(id string, data []byte) error {
	path, err := ep.secretPath(id)
	if err != nil {
		return err
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if err := ep.flock.Lock(); err != nil {
		return fmt.Errorf("failed to lock partition: %w", err)
	}
	defer ep.flock.Unlock()

	tmp, err := os.CreateTemp(ep.basePath, "."+id+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace secret: %w", err)
	}
	log.Debug("Wrote sealed secret", "id", id, "size", len(data))
	return nil
}

// ReadSecret reads secret data from the encrypted partition
func (ep *EncryptedPartitionImpl) ReadSecret(id string) ([]byte, error) {
	path, err := ep.secretPath(id)
	if err != nil {
		return nil, err
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	if err := ep.flock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock partition: %w", err)
	}
	defer ep.flock.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return data, nil
}

// HasSecret reports whether a regular file named id exists.
func (ep *EncryptedPartitionImpl) HasSecret(id string) bool {
	path, err := ep.secretPath(id)
	if err != nil {
		return false
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
