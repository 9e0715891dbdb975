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
	"os"
	"path/filepath"
)

const (
	// DefaultSeedFile is the sealed key manager file name.
	DefaultSeedFile = ".swtr_seed"

	// DefaultHomeDir is created under the user's home directory when no
	// explicit seed location is configured.
	DefaultHomeDir = ".swisstronik-enclave"
)

// StorageConfig locates the sealed store.
type StorageConfig struct {
	SeedHome     string // directory holding the sealed seed
	SeedFile     string // file name inside SeedHome
	ManifestPath string // Gramine manifest used to validate SeedHome, empty to skip
}

// DefaultHome returns $HOME/.swisstronik-enclave, falling back to the
// working directory when the home directory is unknown.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultHomeDir
	}
	return filepath.Join(home, DefaultHomeDir)
}

// DefaultStorageConfig returns the configuration used when nothing is set.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		SeedHome: DefaultHome(),
		SeedFile: DefaultSeedFile,
	}
}

// Open validates the configured location and returns the sealed seed file.
func (c StorageConfig) Open() (*SealedFile, *EncryptedPartitionImpl, error) {
	if c.ManifestPath != "" {
		validator, err := NewMountValidator(c.ManifestPath)
		if err != nil {
			return nil, nil, err
		}
		if err := validator.ValidatePath(c.SeedHome); err != nil {
			return nil, nil, err
		}
	}
	partition, err := NewEncryptedPartition(c.SeedHome)
	if err != nil {
		return nil, nil, err
	}
	name := c.SeedFile
	if name == "" {
		name = DefaultSeedFile
	}
	return NewSealedFile(partition, name), partition, nil
}
