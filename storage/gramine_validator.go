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

	"github.com/BurntSushi/toml"
)

// Gramine key names that derive the encrypted-files key from the enclave
// identity. Any other key is provisioned from outside and does not seal.
const (
	KeyNameMREnclave = "_sgx_mrenclave"
	KeyNameMRSigner  = "_sgx_mrsigner"
)

// ErrUnsealedPath is returned when a secret location is not covered by an
// identity-bound encrypted mount.
var ErrUnsealedPath = errors.New("path is not an identity-bound encrypted mount")

// GramineMount is one entry of fs.mounts in a Gramine manifest.
type GramineMount struct {
	Type    string `toml:"type"`
	Path    string `toml:"path"`
	URI     string `toml:"uri"`
	KeyName string `toml:"key_name"`
}

type gramineManifest struct {
	FS struct {
		Mounts []GramineMount `toml:"mounts"`
	} `toml:"fs"`
}

// MountValidator checks secret locations against the encrypted mounts
// declared in a Gramine manifest.
type MountValidator struct {
	mounts []GramineMount
}

// NewMountValidator parses the manifest at path.
func NewMountValidator(path string) (*MountValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read Gramine manifest: %w", err)
	}
	return ParseMountValidator(data)
}

// ParseMountValidator parses manifest contents.
func ParseMountValidator(data []byte) (*MountValidator, error) {
	var manifest gramineManifest
	if _, err := toml.Decode(string(data), &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse Gramine manifest: %w", err)
	}
	v := &MountValidator{}
	for _, m := range manifest.FS.Mounts {
		if m.Type != "encrypted" {
			continue
		}
		if m.KeyName != KeyNameMREnclave && m.KeyName != KeyNameMRSigner {
			continue
		}
		v.mounts = append(v.mounts, m)
	}
	return v, nil
}

// ValidatePath returns the mount covering path, or ErrUnsealedPath.
func (v *MountValidator) ValidatePath(path string) error {
	_, err := v.MountFor(path)
	return err
}

// MountFor returns the identity-bound encrypted mount that contains path.
func (v *MountValidator) MountFor(path string) (GramineMount, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return GramineMount{}, fmt.Errorf("failed to resolve path: %w", err)
	}
	for _, m := range v.mounts {
		mountPath := filepath.Clean(m.Path)
		if absPath == mountPath || strings.HasPrefix(absPath, mountPath+string(filepath.Separator)) {
			return m, nil
		}
	}
	return GramineMount{}, fmt.Errorf("%w: %s", ErrUnsealedPath, path)
}

// EncryptedMounts returns the identity-bound encrypted mounts.
func (v *MountValidator) EncryptedMounts() []GramineMount {
	return append([]GramineMount(nil), v.mounts...)
}

// InsideGramine reports whether the process runs under Gramine-SGX.
func InsideGramine() bool {
	if _, err := os.Stat("/dev/attestation/quote"); err == nil {
		return true
	}
	return os.Getenv("IN_SGX") == "1" || os.Getenv("GRAMINE_SGX") == "1"
}
