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

package vm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto/secp256r1"
	"github.com/oasisprotocol/curve25519-voi/curve"
	"github.com/oasisprotocol/curve25519-voi/curve/scalar"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"golang.org/x/crypto/sha3"

	"github.com/swisstronik/evm-enclave/core/compliance"
)

const (
	p256VerifyGas       = 3450
	p256VerifyInputSize = 160

	sha3FIPSBaseGas = 60
	sha3FIPSWordGas = 12

	curve25519BaseGas = 60
	curve25519WordGas = 12

	ed25519VerifyBaseGas = 15
	ed25519VerifyWordGas = 3

	complianceBaseGas = 3000
	complianceWordGas = 3

	// curve25519MaxPoints bounds the number of points summed in one call.
	curve25519MaxPoints = 10
)

var (
	errCurve25519InputLength = errors.New("curve25519: invalid input length")
	errEd25519InputLength    = errors.New("ed25519: input too short")
	errNoComplianceBridge    = errors.New("compliance bridge not available")
)

// p256Verify checks a secp256r1 signature as defined by RIP-7212. Input is
// hash || r || s || x || y; the output is a 32-byte one on success and empty
// otherwise.
type p256Verify struct{}

func (c *p256Verify) Name() string { return "P256VERIFY" }

func (c *p256Verify) RequiredGas(input []byte) uint64 {
	return p256VerifyGas
}

func (c *p256Verify) Run(input []byte) ([]byte, error) {
	if len(input) != p256VerifyInputSize {
		return nil, nil
	}
	var (
		hash = input[0:32]
		r    = new(big.Int).SetBytes(input[32:64])
		s    = new(big.Int).SetBytes(input[64:96])
		x    = new(big.Int).SetBytes(input[96:128])
		y    = new(big.Int).SetBytes(input[128:160])
	)
	if !secp256r1.Verify(hash, r, s, x, y) {
		return nil, nil
	}
	return true32Byte, nil
}

// sha3FIPS256 hashes with the standardised SHA3-256, not Keccak.
type sha3FIPS256 struct{}

func (c *sha3FIPS256) Name() string { return "SHA3FIPS256" }

func (c *sha3FIPS256) RequiredGas(input []byte) uint64 {
	return linearCost(input, sha3FIPSBaseGas, sha3FIPSWordGas)
}

func (c *sha3FIPS256) Run(input []byte) ([]byte, error) {
	h := sha3.Sum256(input)
	return h[:], nil
}

type sha3FIPS512 struct{}

func (c *sha3FIPS512) Name() string { return "SHA3FIPS512" }

func (c *sha3FIPS512) RequiredGas(input []byte) uint64 {
	return linearCost(input, sha3FIPSBaseGas, sha3FIPSWordGas)
}

func (c *sha3FIPS512) Run(input []byte) ([]byte, error) {
	h := sha3.Sum512(input)
	return h[:], nil
}

// complianceBridge forwards ABI encoded compliance calls to the host. Only
// selectors of the bridge ABI are accepted.
type complianceBridge struct{}

func (c *complianceBridge) Name() string { return "COMPLIANCE_BRIDGE" }

func (c *complianceBridge) RequiredGas(input []byte) uint64 {
	return linearCost(input, complianceBaseGas, complianceWordGas)
}

func (c *complianceBridge) Run(input []byte) ([]byte, error) {
	if _, _, err := compliance.Lookup(input); err != nil {
		return nil, err
	}
	return nil, errNoComplianceBridge
}

func (c *complianceBridge) RunWithContext(ctx *PrecompileContext, input []byte) ([]byte, error) {
	method, write, err := compliance.Lookup(input)
	if err != nil {
		return nil, err
	}
	if write && ctx.ReadOnly {
		return nil, fmt.Errorf("%w: %s", compliance.ErrReadOnly, method.Name)
	}
	if ctx.Bridge == nil {
		return nil, errNoComplianceBridge
	}
	return ctx.Bridge.ComplianceBridge(ctx.Caller, input, ctx.ReadOnly)
}

// decodeRistretto decodes a compressed ristretto255 point. Invalid encodings
// decode to the identity.
func decodeRistretto(b []byte) *curve.RistrettoPoint {
	p := curve.NewRistrettoPoint()
	if err := p.UnmarshalBinary(b); err != nil {
		return curve.NewRistrettoPoint()
	}
	return p
}

// curve25519Add sums up to ten compressed ristretto255 points.
type curve25519Add struct{}

func (c *curve25519Add) Name() string { return "CURVE25519_ADD" }

func (c *curve25519Add) RequiredGas(input []byte) uint64 {
	return linearCost(input, curve25519BaseGas, curve25519WordGas)
}

func (c *curve25519Add) Run(input []byte) ([]byte, error) {
	if len(input)%32 != 0 || len(input) > 32*curve25519MaxPoints {
		return nil, errCurve25519InputLength
	}
	sum := curve.NewRistrettoPoint()
	for i := 0; i < len(input); i += 32 {
		sum.Add(sum, decodeRistretto(input[i:i+32]))
	}
	return sum.MarshalBinary()
}

// curve25519ScalarMul multiplies a ristretto255 point by a scalar. Input is
// scalar || point.
type curve25519ScalarMul struct{}

func (c *curve25519ScalarMul) Name() string { return "CURVE25519_SCALAR_MUL" }

func (c *curve25519ScalarMul) RequiredGas(input []byte) uint64 {
	return linearCost(input, curve25519BaseGas, curve25519WordGas)
}

func (c *curve25519ScalarMul) Run(input []byte) ([]byte, error) {
	if len(input) != 64 {
		return nil, errCurve25519InputLength
	}
	s, err := scalar.NewFromBytesModOrder(input[:32])
	if err != nil {
		return nil, err
	}
	res := curve.NewRistrettoPoint()
	res.Mul(decodeRistretto(input[32:64]), s)
	return res.MarshalBinary()
}

// ed25519Verify checks an Ed25519 signature. Input is message (32) ||
// public key (32) || signature (64). The last byte of the 32-byte output is
// zero for a valid signature and one otherwise.
type ed25519Verify struct{}

func (c *ed25519Verify) Name() string { return "ED25519_VERIFY" }

func (c *ed25519Verify) RequiredGas(input []byte) uint64 {
	return linearCost(input, ed25519VerifyBaseGas, ed25519VerifyWordGas)
}

func (c *ed25519Verify) Run(input []byte) ([]byte, error) {
	if len(input) < 128 {
		return nil, errEd25519InputLength
	}
	var (
		msg = input[0:32]
		pk  = ed25519.PublicKey(input[32:64])
		sig = input[64:128]
	)
	out := make([]byte, 32)
	if !ed25519.Verify(pk, msg, sig) {
		out[31] = 1
	}
	return out, nil
}
