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

package sgx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Offsets into a DCAP v3 quote. The 48 byte header is followed by the 384
// byte report body and the variable length signature data.
const (
	quoteHeaderSize  = 48
	quoteBodyEnd     = 432
	attributesOffset = 96
	mrenclaveOffset  = 112
	mrsignerOffset   = 176
	isvProdIDOffset  = 304
	isvSVNOffset     = 306
	reportDataOffset = 368

	// attributeDebug is the DEBUG bit of the first attributes byte.
	attributeDebug = 0x02
)

// ErrQuoteTooShort is returned for quotes without a full report body.
var ErrQuoteTooShort = errors.New("quote too short")

// Quote is the parsed header and report body of an SGX quote.
type Quote struct {
	Version            uint16
	AttestationKeyType uint16
	Attributes         [16]byte
	MREnclave          [32]byte
	MRSigner           [32]byte
	ISVProdID          uint16
	ISVSVN             uint16
	ReportData         [ReportDataSize]byte
	// Signature is the raw signature data following the report body.
	Signature []byte
}

// ParseQuote parses the fixed part of a DCAP quote.
func ParseQuote(quote []byte) (*Quote, error) {
	if len(quote) < quoteBodyEnd {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrQuoteTooShort, len(quote), quoteBodyEnd)
	}
	q := &Quote{
		Version:            binary.LittleEndian.Uint16(quote[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(quote[2:4]),
		ISVProdID:          binary.LittleEndian.Uint16(quote[isvProdIDOffset:]),
		ISVSVN:             binary.LittleEndian.Uint16(quote[isvSVNOffset:]),
	}
	copy(q.Attributes[:], quote[attributesOffset:])
	copy(q.MREnclave[:], quote[mrenclaveOffset:])
	copy(q.MRSigner[:], quote[mrsignerOffset:])
	copy(q.ReportData[:], quote[reportDataOffset:quoteBodyEnd])
	if len(quote) > quoteBodyEnd {
		q.Signature = append([]byte(nil), quote[quoteBodyEnd:]...)
	}
	return q, nil
}

// Debug reports whether the quoted enclave runs in debug mode.
func (q *Quote) Debug() bool {
	return q.Attributes[0]&attributeDebug != 0
}

// buildQuoteBody assembles the header and report body of a DCAP v3 quote
// with an ECDSA-P256 attestation key. The signature data is appended by the
// signer.
func buildQuoteBody(mrenclave, mrsigner [32]byte, reportData [ReportDataSize]byte, debug bool) []byte {
	quote := make([]byte, quoteBodyEnd)
	binary.LittleEndian.PutUint16(quote[0:], 3) // version
	binary.LittleEndian.PutUint16(quote[2:], attestationKeyP256)
	binary.LittleEndian.PutUint16(quote[8:], 1) // QE SVN
	binary.LittleEndian.PutUint16(quote[10:], 1)
	if debug {
		quote[attributesOffset] |= attributeDebug
	}
	copy(quote[mrenclaveOffset:], mrenclave[:])
	copy(quote[mrsignerOffset:], mrsigner[:])
	binary.LittleEndian.PutUint16(quote[isvSVNOffset:], 1)
	copy(quote[reportDataOffset:], reportData[:])
	return quote
}
