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

// Package dispatcher turns transaction requests into executions: it checks
// the sender signature, opens encrypted payloads, runs the invoker and
// commits or discards the resulting changeset.
package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/swisstronik/evm-enclave/core/backend"
	"github.com/swisstronik/evm-enclave/core/host"
	"github.com/swisstronik/evm-enclave/core/invoker"
	"github.com/swisstronik/evm-enclave/ffi"
	"github.com/swisstronik/evm-enclave/internal/primitives"
	"github.com/swisstronik/evm-enclave/keymanager"
)

var (
	// ErrBadSignature is reported when the recovered sender differs from
	// the declared one.
	ErrBadSignature = errors.New("bad signature")

	// ErrBadPayload is reported for malformed requests and encrypted
	// envelopes.
	ErrBadPayload = ffi.ErrBadPayload
)

// Kind selects how a request is executed.
type Kind uint8

const (
	KindCall Kind = iota
	KindCreate
	KindEstimate
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindCreate:
		return "create"
	case KindEstimate:
		return "estimateGas"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

const (
	// emptyInputSize is the length of the short envelope: a zero selector
	// followed by the user public key, requesting an encrypted reply to a
	// call without input.
	emptyInputSize = 4 + primitives.PublicKeySize

	// minEnvelopeSize is the smallest user key || nonce || ad || ciphertext
	// envelope, with at least a tag worth of ciphertext.
	minEnvelopeSize = primitives.PublicKeySize + primitives.Overhead
)

// Dispatcher executes transaction requests.
type Dispatcher struct {
	inv *invoker.Invoker
}

// New returns a dispatcher running transactions through inv.
func New(inv *invoker.Invoker) *Dispatcher {
	return &Dispatcher{inv: inv}
}

// envelope is the decoded form of an encrypted payload.
type envelope struct {
	userPub []byte
	nonce   *[primitives.NonceSize]byte
	epoch   uint16
}

// Dispatch executes req against the host state reachable through q.
//
// Execution failures, bad signatures and undecryptable payloads yield a
// response whose VMError is set. An error is returned only for malformed
// requests and for host failures, in which case nothing was written.
func (d *Dispatcher) Dispatch(ctx context.Context, q host.Querier, km *keymanager.KeyManager, kind Kind, req *ffi.TransactionRequest) (*ffi.TransactionResponse, error) {
	start := time.Now()
	if req == nil || req.Params == nil || req.Context == nil {
		return nil, fmt.Errorf("%w: transaction request without params or context", ErrBadPayload)
	}
	p, bctx := req.Params, req.Context
	commit := p.Commit && kind != KindEstimate

	msg, err := decodeMessage(kind, p)
	if err != nil {
		return nil, err
	}
	chainID := p.ChainID
	if chainID == 0 {
		chainID = bctx.ChainID
	}
	if err := verifySender(p, msg, chainID); err != nil {
		log.Debug("Rejected transaction", "from", msg.From, "err", err)
		return failure(err), nil
	}

	// Open the payload when it is encrypted.
	var env *envelope
	if len(p.Data) > 0 && !p.Unencrypted {
		env, msg.Data, err = openEnvelope(km, p.Data)
		if err != nil {
			log.Debug("Rejected encrypted payload", "from", msg.From, "size", len(p.Data), "err", err)
			return failure(err), nil
		}
	}

	store := host.NewStorage(ctx, q, km, host.Block{Number: bctx.BlockNumber, Timestamp: bctx.BlockTimestamp})
	b := backend.New(vicinityOf(p, bctx, msg.From, chainID), store)

	res, err := d.inv.Transact(b, msg)
	if storeErr := b.Err(); storeErr != nil {
		return nil, storeErr
	}
	if err != nil {
		return failure(err), nil
	}

	resp := &ffi.TransactionResponse{GasUsed: res.GasUsed, Data: res.ReturnData}
	if resp.GasUsed == 0 {
		resp.GasUsed = params.TxGas
	}
	if res.Failed() {
		resp.VMError = res.Err.Error()
	}
	for _, l := range res.Logs {
		resp.Logs = append(resp.Logs, logOf(l))
	}
	if env != nil && !res.Failed() {
		if resp.Data, err = sealReply(km, env, res.ReturnData); err != nil {
			return nil, err
		}
	}

	if commit {
		// A failed transaction still consumes the sender nonce.
		if err := apply(store, b.Deconstruct()); err != nil {
			return nil, err
		}
		if msg.To == nil && !res.Failed() {
			resp.Data = res.ContractAddress.Bytes()
		}
	}
	if kind == KindEstimate {
		resp.Logs, resp.Data = nil, nil
	}

	log.Debug("Dispatched transaction", "kind", kind, "from", msg.From, "to", msg.To,
		"encrypted", env != nil, "commit", commit, "gas", resp.GasUsed, "vmerr", resp.VMError,
		"elapsed", common.PrettyDuration(time.Since(start)))
	return resp, nil
}

// apply writes the changeset to the host in one atomic batch.
func apply(store *host.Storage, cs *backend.ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	batch := store.NewBatch()
	if err := cs.Apply(batch); err != nil {
		return err
	}
	return batch.Write()
}

// failure is the response for a transaction that never reached the machine.
func failure(err error) *ffi.TransactionResponse {
	return &ffi.TransactionResponse{GasUsed: params.TxGas, VMError: err.Error()}
}

func decodeAddress(field string, b []byte) (common.Address, error) {
	if len(b) != common.AddressLength {
		return common.Address{}, fmt.Errorf("%w: %s of %d bytes", ErrBadPayload, field, len(b))
	}
	return common.BytesToAddress(b), nil
}

// decodeMessage converts the request parameters into an invoker message.
func decodeMessage(kind Kind, p *ffi.TransactionParams) (*invoker.Message, error) {
	var (
		msg = &invoker.Message{Data: p.Data, GasLimit: p.GasLimit, Value: p.Value}
		err error
	)
	if len(p.From) > 0 {
		if msg.From, err = decodeAddress("sender", p.From); err != nil {
			return nil, err
		}
	}
	if kind != KindCreate && len(p.To) > 0 {
		to, err := decodeAddress("recipient", p.To)
		if err != nil {
			return nil, err
		}
		msg.To = &to
	}
	if kind == KindCall && msg.To == nil {
		return nil, fmt.Errorf("%w: call without recipient", ErrBadPayload)
	}
	for i, item := range p.AccessList {
		addr, err := decodeAddress(fmt.Sprintf("access list address %d", i), item.Address)
		if err != nil {
			return nil, err
		}
		tuple := types.AccessTuple{Address: addr, StorageKeys: make([]common.Hash, 0, len(item.StorageSlots))}
		for _, slot := range item.StorageSlots {
			if len(slot) != common.HashLength {
				return nil, fmt.Errorf("%w: access list slot of %d bytes", ErrBadPayload, len(slot))
			}
			tuple.StorageKeys = append(tuple.StorageKeys, common.BytesToHash(slot))
		}
		msg.AccessList = append(msg.AccessList, tuple)
	}
	return msg, nil
}

// verifySender checks the signature when one is present and the sender is
// not the zero address.
func verifySender(p *ffi.TransactionParams, msg *invoker.Message, chainID uint64) error {
	if len(p.Signature) == 0 || allZero(p.Signature) || msg.From == (common.Address{}) {
		return nil
	}
	hash, err := SigningHash(p, chainID)
	if err != nil {
		return err
	}
	sender, err := primitives.RecoverSender(hash, p.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if sender != msg.From {
		return fmt.Errorf("%w: recovered %s, declared %s", ErrBadSignature, sender, msg.From)
	}
	return nil
}

// SigningHash returns the hash the sender signed: the type-prefixed RLP of
// the unsigned envelope, with EIP-155 replay protection for legacy
// transactions on a known chain.
func SigningHash(p *ffi.TransactionParams, chainID uint64) (common.Hash, error) {
	var to *common.Address
	if len(p.To) > 0 {
		addr, err := decodeAddress("recipient", p.To)
		if err != nil {
			return common.Hash{}, err
		}
		to = &addr
	}
	var accessList types.AccessList
	for _, item := range p.AccessList {
		tuple := types.AccessTuple{Address: common.BytesToAddress(item.Address)}
		for _, slot := range item.StorageSlots {
			tuple.StorageKeys = append(tuple.StorageKeys, common.BytesToHash(slot))
		}
		accessList = append(accessList, tuple)
	}
	var (
		chain = new(big.Int).SetUint64(chainID)
		inner types.TxData
	)
	switch p.TxType {
	case ffi.TxTypeLegacy:
		inner = &types.LegacyTx{
			Nonce:    p.Nonce,
			GasPrice: bigOf(p.GasPrice),
			Gas:      p.GasLimit,
			To:       to,
			Value:    bigOf(p.Value),
			Data:     p.Data,
		}
	case ffi.TxTypeAccessList:
		inner = &types.AccessListTx{
			ChainID:    chain,
			Nonce:      p.Nonce,
			GasPrice:   bigOf(p.GasPrice),
			Gas:        p.GasLimit,
			To:         to,
			Value:      bigOf(p.Value),
			Data:       p.Data,
			AccessList: accessList,
		}
	case ffi.TxTypeDynamicFee:
		inner = &types.DynamicFeeTx{
			ChainID:    chain,
			Nonce:      p.Nonce,
			GasTipCap:  bigOf(p.MaxPriorityFeePerGas),
			GasFeeCap:  bigOf(p.MaxFeePerGas),
			Gas:        p.GasLimit,
			To:         to,
			Value:      bigOf(p.Value),
			Data:       p.Data,
			AccessList: accessList,
		}
	default:
		return common.Hash{}, fmt.Errorf("%w: transaction type %d", ErrBadPayload, p.TxType)
	}
	var signer types.Signer
	if chainID == 0 {
		signer = types.HomesteadSigner{}
	} else {
		signer = types.LatestSignerForChainID(chain)
	}
	return signer.Hash(types.NewTx(inner)), nil
}

// openEnvelope decrypts an encrypted payload and returns the plaintext
// input together with what is needed to seal the reply.
func openEnvelope(km *keymanager.KeyManager, data []byte) (*envelope, []byte, error) {
	if len(data) == emptyInputSize && allZero(data[:4]) {
		return &envelope{userPub: common.CopyBytes(data[4:])}, nil, nil
	}
	if len(data) < minEnvelopeSize {
		return nil, nil, fmt.Errorf("%w: encrypted payload of %d bytes", ErrBadPayload, len(data))
	}
	userPub, ciphertext := data[:primitives.PublicKeySize], data[primitives.PublicKeySize:]
	plaintext, epoch, err := km.DecryptFromClientEpoch(ciphertext, userPub)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := primitives.SplitNonce(ciphertext)
	if err != nil {
		return nil, nil, err
	}
	return &envelope{userPub: common.CopyBytes(userPub), nonce: &nonce, epoch: epoch}, plaintext, nil
}

// sealReply encrypts the return data for the envelope's owner, reusing the
// request nonce when there was one.
func sealReply(km *keymanager.KeyManager, env *envelope, data []byte) ([]byte, error) {
	if env.nonce != nil {
		return km.EncryptForClientEpoch(env.epoch, data, env.userPub, *env.nonce)
	}
	nonce, err := primitives.RandomNonce()
	if err != nil {
		return nil, err
	}
	return km.EncryptForClient(data, env.userPub, nonce)
}

func vicinityOf(p *ffi.TransactionParams, bctx *ffi.TransactionContext, origin common.Address, chainID uint64) backend.Vicinity {
	baseFee := bctx.BlockBaseFeePerGas
	if baseFee == nil {
		baseFee = new(uint256.Int)
	}
	return backend.Vicinity{
		ChainID:        uint256.NewInt(chainID),
		BlockNumber:    bctx.BlockNumber,
		BlockTimestamp: bctx.BlockTimestamp,
		BlockCoinbase:  common.BytesToAddress(bctx.BlockCoinbase),
		BlockGasLimit:  bctx.BlockGasLimit,
		BlockBaseFee:   baseFee,
		GasPrice:       effectiveGasPrice(p, baseFee),
		Origin:         origin,
	}
}

// effectiveGasPrice is the legacy gas price, or min(feeCap, baseFee + tip)
// for dynamic fee transactions.
func effectiveGasPrice(p *ffi.TransactionParams, baseFee *uint256.Int) *uint256.Int {
	if p.TxType != ffi.TxTypeDynamicFee {
		if p.GasPrice == nil {
			return new(uint256.Int)
		}
		return new(uint256.Int).Set(p.GasPrice)
	}
	price := new(uint256.Int).Set(baseFee)
	if p.MaxPriorityFeePerGas != nil {
		price.Add(price, p.MaxPriorityFeePerGas)
	}
	if p.MaxFeePerGas != nil && p.MaxFeePerGas.Lt(price) {
		price.Set(p.MaxFeePerGas)
	}
	return price
}

func logOf(l *types.Log) *ffi.Log {
	out := &ffi.Log{Address: l.Address.Bytes(), Data: common.CopyBytes(l.Data)}
	for _, topic := range l.Topics {
		out.Topics = append(out.Topics, topic.Bytes())
	}
	return out
}

func bigOf(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func allZero(b []byte) bool {
	return len(bytes.TrimLeft(b, "\x00")) == 0
}
