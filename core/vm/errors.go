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
)

// List evm execution errors
var (
	ErrOutOfGas                 = errors.New("out of gas")
	ErrCodeStoreOutOfGas        = errors.New("contract creation code storage out of gas")
	ErrDepth                    = errors.New("max call depth exceeded")
	ErrInsufficientBalance      = errors.New("insufficient balance for transfer")
	ErrContractAddressCollision = errors.New("contract address collision")
	ErrExecutionReverted        = errors.New("execution reverted")
	ErrMaxCodeSizeExceeded      = errors.New("max code size exceeded")
	ErrMaxInitCodeSizeExceeded  = errors.New("max initcode size exceeded")
	ErrInvalidJump              = errors.New("invalid jump destination")
	ErrWriteProtection          = errors.New("write protection")
	ErrReturnDataOutOfBounds    = errors.New("return data out of bounds")
	ErrGasUintOverflow          = errors.New("gas uint64 overflow")
	ErrInvalidCode              = errors.New("invalid code: must not begin with 0xef")
	ErrNonceUintOverflow        = errors.New("nonce uint64 overflow")
	ErrStackUnderflow           = errors.New("stack underflow")
	ErrStackOverflow            = errors.New("stack limit reached")
	ErrInvalidOpCode            = errors.New("invalid opcode")
	ErrNotSupported             = errors.New("not supported")
	ErrPrecompileFailure        = errors.New("precompile failure")

	// errStopToken is an internal token indicating interpreter loop termination,
	// never returned to outside callers.
	errStopToken = errors.New("stop token")

	// errTrapToken suspends the interpreter loop until the pending call or
	// create has been resolved.
	errTrapToken = errors.New("trap token")
)

// ExitKind classifies how a frame stopped.
type ExitKind uint8

const (
	ExitSucceed ExitKind = iota
	ExitRevert
	ExitException
	ExitFatal
)

func (k ExitKind) String() string {
	switch k {
	case ExitSucceed:
		return "succeed"
	case ExitRevert:
		return "revert"
	case ExitException:
		return "exception"
	case ExitFatal:
		return "fatal"
	}
	return fmt.Sprintf("ExitKind(%d)", uint8(k))
}

// ExitError is the typed outcome of a failed execution.
type ExitError struct {
	Kind ExitKind
	Err  error
}

// NewExitError wraps err with its classification. It returns nil for a nil
// error.
func NewExitError(err error) *ExitError {
	if err == nil {
		return nil
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit
	}
	return &ExitError{Kind: Classify(err), Err: err}
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Classify maps an execution error onto its exit kind.
func Classify(err error) ExitKind {
	switch {
	case err == nil:
		return ExitSucceed
	case errors.Is(err, ErrExecutionReverted):
		return ExitRevert
	case errors.Is(err, ErrNotSupported):
		return ExitFatal
	}
	return ExitException
}
