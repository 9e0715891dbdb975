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
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/blake2b"
	"github.com/ethereum/go-ethereum/crypto/bn256"
	"github.com/ethereum/go-ethereum/params"

	//lint:ignore SA1019 Needed for precompile
	"golang.org/x/crypto/ripemd160"
)

// PrecompiledContract is the basic interface for native Go contracts. The implementation
// requires a deterministic gas count based on the input size of the Run method of the
// contract.
type PrecompiledContract interface {
	Name() string
	RequiredGas(input []byte) uint64  // RequiredPrice calculates the contract gas use
	Run(input []byte) ([]byte, error) // Run runs the precompiled contract
}

// ContextualPrecompile is a precompile that needs to know who calls it and
// from which context.
type ContextualPrecompile interface {
	PrecompiledContract

	// RunWithContext executes the contract with the call context
	RunWithContext(ctx *PrecompileContext, input []byte) ([]byte, error)
}

// ComplianceBridge routes compliance calls to the host.
type ComplianceBridge interface {
	ComplianceBridge(caller common.Address, input []byte, readOnly bool) ([]byte, error)
}

// PrecompileContext represents the execution context of a precompile call.
type PrecompileContext struct {
	// Caller address
	Caller common.Address

	// Transaction originator
	Origin common.Address

	BlockNumber uint64
	Timestamp   uint64

	// ReadOnly is set inside static calls and for eth_call style queries.
	// State-modifying operations must check this and fail if true
	ReadOnly bool

	Bridge ComplianceBridge
}

// PrecompileAddress maps the low 64 bits of an address onto the 20-byte form.
func PrecompileAddress(n uint64) common.Address {
	var addr common.Address
	binary.BigEndian.PutUint64(addr[12:], n)
	return addr
}

// Precompiles holds the precompiled contracts keyed by address.
type Precompiles map[common.Address]PrecompiledContract

// NewPrecompiles returns the full precompile set using the given pairing
// gas schedule.
func NewPrecompiles(pairing PairingSchedule) Precompiles {
	return Precompiles{
		PrecompileAddress(1):     &ecrecover{},
		PrecompileAddress(2):     &sha256hash{},
		PrecompileAddress(3):     &ripemd160hash{},
		PrecompileAddress(4):     &dataCopy{},
		PrecompileAddress(5):     &bigModExp{},
		PrecompileAddress(6):     &bn256Add{},
		PrecompileAddress(7):     &bn256ScalarMul{},
		PrecompileAddress(8):     &bn256Pairing{schedule: pairing.gas()},
		PrecompileAddress(9):     &blake2F{},
		PrecompileAddress(0x100): &p256Verify{},
		PrecompileAddress(1024):  &sha3FIPS256{},
		PrecompileAddress(1025):  &sha3FIPS512{},
		PrecompileAddress(1028):  &complianceBridge{},
		PrecompileAddress(1029):  &curve25519Add{},
		PrecompileAddress(1030):  &curve25519ScalarMul{},
		PrecompileAddress(1031):  &ed25519Verify{},
	}
}

// Get returns the precompile at addr.
func (p Precompiles) Get(addr common.Address) (PrecompiledContract, bool) {
	c, ok := p[addr]
	return c, ok
}

// Addresses returns every precompile address. They are warm from the start
// of a transaction.
func (p Precompiles) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(p))
	for addr := range p {
		addrs = append(addrs, addr)
	}
	return addrs
}

// RunPrecompiledContract runs and evaluates the output of a precompiled contract.
// It returns
// - the returned bytes,
// - the _remaining_ gas,
// - any error that occurred
func RunPrecompiledContract(ctx *PrecompileContext, p PrecompiledContract, input []byte, suppliedGas uint64) (ret []byte, remainingGas uint64, err error) {
	gasCost := p.RequiredGas(input)
	if suppliedGas < gasCost {
		return nil, 0, ErrOutOfGas
	}
	suppliedGas -= gasCost
	if pc, ok := p.(ContextualPrecompile); ok && ctx != nil {
		ret, err = pc.RunWithContext(ctx, input)
	} else {
		ret, err = p.Run(input)
	}
	return ret, suppliedGas, err
}

// linearCost returns base + word * ceil(len(input) / 32), saturating at
// the maximum uint64 so an oversized input always runs out of gas.
func linearCost(input []byte, base, word uint64) uint64 {
	words := (uint64(len(input)) + 31) / 32
	cost, overflow := gmath.SafeMul(words, word)
	if overflow {
		return math.MaxUint64
	}
	if cost, overflow = gmath.SafeAdd(cost, base); overflow {
		return math.MaxUint64
	}
	return cost
}

// ECRECOVER implemented as a native contract.
type ecrecover struct{}

func (c *ecrecover) Name() string { return "ECRECOVER" }

func (c *ecrecover) RequiredGas(input []byte) uint64 {
	return linearCost(input, params.EcrecoverGas, 0)
}

func (c *ecrecover) Run(input []byte) ([]byte, error) {
	const ecRecoverInputLength = 128

	input = common.RightPadBytes(input, ecRecoverInputLength)
	// "input" is (hash, v, r, s), each 32 bytes
	// but for ecrecover we want (r, s, v)

	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])
	v := input[63] - 27

	// tighter sig s values input homestead only apply to tx sigs
	if !allZero(input[32:63]) || !crypto.ValidateSignatureValues(v, r, s, false) {
		return nil, nil
	}
	// We must make sure not to modify the 'input', so placing the 'v' along with
	// the signature needs to be done on a new allocation
	sig := make([]byte, 65)
	copy(sig, input[64:128])
	sig[64] = v
	// v needs to be at the end for libsecp256k1
	pubKey, err := crypto.Ecrecover(input[:32], sig)
	// make sure the public key is a valid one
	if err != nil {
		return nil, nil
	}

	// the first byte of pubkey is bitcoin heritage
	return common.LeftPadBytes(crypto.Keccak256(pubKey[1:])[12:], 32), nil
}

// SHA256 implemented as a native contract.
type sha256hash struct{}

func (c *sha256hash) Name() string { return "SHA256" }

// RequiredGas returns the gas required to execute the pre-compiled contract.
func (c *sha256hash) RequiredGas(input []byte) uint64 {
	return linearCost(input, params.Sha256BaseGas, params.Sha256PerWordGas)
}

func (c *sha256hash) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// RIPEMD160 implemented as a native contract.
type ripemd160hash struct{}

func (c *ripemd160hash) Name() string { return "RIPEMD160" }

func (c *ripemd160hash) RequiredGas(input []byte) uint64 {
	return linearCost(input, params.Ripemd160BaseGas, params.Ripemd160PerWordGas)
}

func (c *ripemd160hash) Run(input []byte) ([]byte, error) {
	ripemd := ripemd160.New()
	ripemd.Write(input)
	return common.LeftPadBytes(ripemd.Sum(nil), 32), nil
}

// data copy implemented as a native contract.
type dataCopy struct{}

func (c *dataCopy) Name() string { return "ID" }

func (c *dataCopy) RequiredGas(input []byte) uint64 {
	return linearCost(input, params.IdentityBaseGas, params.IdentityPerWordGas)
}

func (c *dataCopy) Run(in []byte) ([]byte, error) {
	return common.CopyBytes(in), nil
}

// bigModExp implements a native big integer exponential modular operation
// priced after EIP-2565.
type bigModExp struct{}

var (
	big1   = big.NewInt(1)
	big3   = big.NewInt(3)
	big7   = big.NewInt(7)
	big8   = big.NewInt(8)
	big32  = big.NewInt(32)
	big200 = big.NewInt(200)
)

func (c *bigModExp) Name() string { return "MODEXP" }

func bigMax(x, y *big.Int) *big.Int {
	if x.Cmp(y) < 0 {
		return y
	}
	return x
}

// RequiredGas returns the gas required to execute the pre-compiled contract.
func (c *bigModExp) RequiredGas(input []byte) uint64 {
	var (
		baseLen = new(big.Int).SetBytes(getData(input, 0, 32))
		expLen  = new(big.Int).SetBytes(getData(input, 32, 32))
		modLen  = new(big.Int).SetBytes(getData(input, 64, 32))
	)
	if len(input) > 96 {
		input = input[96:]
	} else {
		input = input[:0]
	}
	// Retrieve the head 32 bytes of exp for the adjusted exponent length
	var expHead *big.Int
	if big.NewInt(int64(len(input))).Cmp(baseLen) <= 0 {
		expHead = new(big.Int)
	} else {
		if expLen.Cmp(big32) > 0 {
			expHead = new(big.Int).SetBytes(getData(input, baseLen.Uint64(), 32))
		} else {
			expHead = new(big.Int).SetBytes(getData(input, baseLen.Uint64(), expLen.Uint64()))
		}
	}
	// Calculate the adjusted exponent length
	var msb int
	if bitlen := expHead.BitLen(); bitlen > 0 {
		msb = bitlen - 1
	}
	adjExpLen := new(big.Int)
	if expLen.Cmp(big32) > 0 {
		adjExpLen.Sub(expLen, big32)
		adjExpLen.Mul(big8, adjExpLen)
	}
	adjExpLen.Add(adjExpLen, big.NewInt(int64(msb)))

	// mult_complexity(x) = ceiling(x/8)^2 where x is max(length_of_MODULUS, length_of_BASE)
	gas := new(big.Int).Set(bigMax(modLen, baseLen))
	gas.Add(gas, big7)
	gas.Div(gas, big8)
	gas.Mul(gas, gas)

	gas.Mul(gas, bigMax(adjExpLen, big1))
	gas.Div(gas, big3)
	if gas.BitLen() > 64 {
		return math.MaxUint64
	}
	if gas.Cmp(big200) < 0 {
		return 200
	}
	return gas.Uint64()
}

func (c *bigModExp) Run(input []byte) ([]byte, error) {
	var (
		baseLen = new(big.Int).SetBytes(getData(input, 0, 32)).Uint64()
		expLen  = new(big.Int).SetBytes(getData(input, 32, 32)).Uint64()
		modLen  = new(big.Int).SetBytes(getData(input, 64, 32)).Uint64()
	)
	if len(input) > 96 {
		input = input[96:]
	} else {
		input = input[:0]
	}
	// Handle a special case when both the base and mod length is zero
	if baseLen == 0 && modLen == 0 {
		return []byte{}, nil
	}
	// Retrieve the operands and execute the exponentiation
	var (
		base = new(big.Int).SetBytes(getData(input, 0, baseLen))
		exp  = new(big.Int).SetBytes(getData(input, baseLen, expLen))
		mod  = new(big.Int).SetBytes(getData(input, baseLen+expLen, modLen))
	)
	if mod.BitLen() == 0 {
		// Modulo 0 is undefined, return zero
		return common.LeftPadBytes([]byte{}, int(modLen)), nil
	}
	return common.LeftPadBytes(base.Exp(base, exp, mod).Bytes(), int(modLen)), nil
}

// newCurvePoint unmarshals a binary blob into a bn256 elliptic curve point,
// returning it, or an error if the point is invalid.
func newCurvePoint(blob []byte) (*bn256.G1, error) {
	p := new(bn256.G1)
	if _, err := p.Unmarshal(blob); err != nil {
		return nil, err
	}
	return p, nil
}

// newTwistPoint unmarshals a binary blob into a bn256 elliptic curve point,
// returning it, or an error if the point is invalid.
func newTwistPoint(blob []byte) (*bn256.G2, error) {
	p := new(bn256.G2)
	if _, err := p.Unmarshal(blob); err != nil {
		return nil, err
	}
	return p, nil
}

// bn256Add implements a native elliptic curve point addition conforming to
// Istanbul consensus rules.
type bn256Add struct{}

func (c *bn256Add) Name() string { return "BN254_ADD" }

func (c *bn256Add) RequiredGas(input []byte) uint64 {
	return linearCost(input, params.Bn256AddGasIstanbul, 0)
}

func (c *bn256Add) Run(input []byte) ([]byte, error) {
	x, err := newCurvePoint(getData(input, 0, 64))
	if err != nil {
		return nil, err
	}
	y, err := newCurvePoint(getData(input, 64, 64))
	if err != nil {
		return nil, err
	}
	res := new(bn256.G1)
	res.Add(x, y)
	return res.Marshal(), nil
}

// bn256ScalarMul implements a native elliptic curve scalar multiplication
// conforming to Istanbul consensus rules.
type bn256ScalarMul struct{}

func (c *bn256ScalarMul) Name() string { return "BN254_MUL" }

func (c *bn256ScalarMul) RequiredGas(input []byte) uint64 {
	return linearCost(input, params.Bn256ScalarMulGasIstanbul, 0)
}

func (c *bn256ScalarMul) Run(input []byte) ([]byte, error) {
	p, err := newCurvePoint(getData(input, 0, 64))
	if err != nil {
		return nil, err
	}
	res := new(bn256.G1)
	res.ScalarMult(p, new(big.Int).SetBytes(getData(input, 64, 32)))
	return res.Marshal(), nil
}

var (
	// true32Byte is returned if the bn256 pairing check succeeds.
	true32Byte = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}

	// false32Byte is returned if the bn256 pairing check fails.
	false32Byte = make([]byte, 32)

	// errBadPairingInput is returned if the bn256 pairing input is invalid.
	errBadPairingInput = errors.New("bad elliptic curve pairing size")
)

// PairingSchedule names a bn256 pairing gas schedule.
type PairingSchedule string

const (
	// PairingDefault charges 34000 per call and 34000 per pair.
	PairingDefault PairingSchedule = "default"
	// PairingIstanbul charges 45000 per call and 34000 per pair.
	PairingIstanbul PairingSchedule = "istanbul"
)

type pairingGas struct {
	base, perPoint uint64
}

func (s PairingSchedule) gas() pairingGas {
	if s == PairingIstanbul {
		return pairingGas{params.Bn256PairingBaseGasIstanbul, params.Bn256PairingPerPointGasIstanbul}
	}
	return pairingGas{34000, 34000}
}

// bn256Pairing implements a pairing pre-compile for the bn256 curve.
type bn256Pairing struct {
	schedule pairingGas
}

func (c *bn256Pairing) Name() string { return "BN254_PAIRING" }

// RequiredGas charges only the base cost for malformed input; Run rejects it.
func (c *bn256Pairing) RequiredGas(input []byte) uint64 {
	if len(input)%192 != 0 {
		return c.schedule.base
	}
	cost, overflow := gmath.SafeMul(uint64(len(input)/192), c.schedule.perPoint)
	if overflow {
		return math.MaxUint64
	}
	if cost, overflow = gmath.SafeAdd(cost, c.schedule.base); overflow {
		return math.MaxUint64
	}
	return cost
}

func (c *bn256Pairing) Run(input []byte) ([]byte, error) {
	// Handle some corner cases cheaply
	if len(input)%192 > 0 {
		return nil, errBadPairingInput
	}
	// Convert the input into a set of coordinates
	var (
		cs []*bn256.G1
		ts []*bn256.G2
	)
	for i := 0; i < len(input); i += 192 {
		c, err := newCurvePoint(input[i : i+64])
		if err != nil {
			return nil, err
		}
		t, err := newTwistPoint(input[i+64 : i+192])
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
		ts = append(ts, t)
	}
	// Execute the pairing checks and return the results
	if bn256.PairingCheck(cs, ts) {
		return true32Byte, nil
	}
	return false32Byte, nil
}

type blake2F struct{}

func (c *blake2F) Name() string { return "BLAKE2F" }

// RequiredGas charges one unit per round. Malformed input costs nothing and
// fails in Run.
func (c *blake2F) RequiredGas(input []byte) uint64 {
	if len(input) != blake2FInputLength {
		return 0
	}
	return uint64(binary.BigEndian.Uint32(input[0:4]))
}

const (
	blake2FInputLength        = 213
	blake2FFinalBlockBytes    = byte(1)
	blake2FNonFinalBlockBytes = byte(0)
)

var (
	errBlake2FInvalidInputLength = errors.New("invalid input length")
	errBlake2FInvalidFinalFlag   = errors.New("invalid final flag")
)

func (c *blake2F) Run(input []byte) ([]byte, error) {
	// Make sure the input is valid (correct length and final flag)
	if len(input) != blake2FInputLength {
		return nil, errBlake2FInvalidInputLength
	}
	if input[212] != blake2FNonFinalBlockBytes && input[212] != blake2FFinalBlockBytes {
		return nil, errBlake2FInvalidFinalFlag
	}
	// Parse the input into the Blake2b call parameters
	var (
		rounds = binary.BigEndian.Uint32(input[0:4])
		final  = input[212] == blake2FFinalBlockBytes

		h [8]uint64
		m [16]uint64
		t [2]uint64
	)
	for i := 0; i < 8; i++ {
		offset := 4 + i*8
		h[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	for i := 0; i < 16; i++ {
		offset := 68 + i*8
		m[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	t[0] = binary.LittleEndian.Uint64(input[196:204])
	t[1] = binary.LittleEndian.Uint64(input[204:212])

	// Execute the compression function, extract and return the result
	blake2b.F(&h, m, t, final, rounds)

	output := make([]byte, 64)
	for i := 0; i < 8; i++ {
		offset := i * 8
		binary.LittleEndian.PutUint64(output[offset:offset+8], h[i])
	}
	return output, nil
}

func allZero(b []byte) bool {
	for _, byte := range b {
		if byte != 0 {
			return false
		}
	}
	return true
}
