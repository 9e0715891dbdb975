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
	"bytes"
	"errors"
	"testing"
)

func TestParseQuote(t *testing.T) {
	a := NewMockAttestor()
	var rd [ReportDataSize]byte
	for i := range rd {
		rd[i] = byte(0xff - i)
	}
	raw, err := a.Quote(rd)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	q, err := ParseQuote(raw)
	if err != nil {
		t.Fatalf("ParseQuote failed: %v", err)
	}
	if q.Version != 3 {
		t.Errorf("version mismatch: got %d, want 3", q.Version)
	}
	if !bytes.Equal(q.MREnclave[:], a.MREnclave()) {
		t.Errorf("MRENCLAVE mismatch: got %x, want %x", q.MREnclave, a.MREnclave())
	}
	if !bytes.Equal(q.MRSigner[:], a.MRSigner()) {
		t.Errorf("MRSIGNER mismatch: got %x, want %x", q.MRSigner, a.MRSigner())
	}
	if q.ReportData != rd {
		t.Errorf("report data mismatch: got %x, want %x", q.ReportData, rd)
	}
	if q.Debug() {
		t.Error("mock quote should not be a debug quote")
	}
	sd, err := parseSignatureData(raw)
	if err != nil {
		t.Fatalf("parseSignatureData failed: %v", err)
	}
	if sd.CertType != certTypePCKChain {
		t.Errorf("cert type mismatch: got %d, want %d", sd.CertType, certTypePCKChain)
	}
	if len(q.Signature) != len(raw)-quoteBodyEnd {
		t.Errorf("signature length mismatch: got %d", len(q.Signature))
	}
}

func TestParseQuoteTooShort(t *testing.T) {
	_, err := ParseQuote(make([]byte, quoteBodyEnd-1))
	if !errors.Is(err, ErrQuoteTooShort) {
		t.Fatalf("expected ErrQuoteTooShort, got %v", err)
	}
}

func TestDebugAttribute(t *testing.T) {
	raw, err := NewMockAttestorWith([32]byte{1}, [32]byte{2}).WithDebug().Quote([ReportDataSize]byte{})
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	q, err := ParseQuote(raw)
	if err != nil {
		t.Fatalf("ParseQuote failed: %v", err)
	}
	if !q.Debug() {
		t.Error("expected debug attribute to be set")
	}
}

func TestNewAttestor(t *testing.T) {
	a, err := NewAttestor(ModeMock)
	if err != nil {
		t.Fatalf("NewAttestor failed: %v", err)
	}
	if _, ok := a.(*MockAttestor); !ok {
		t.Errorf("unexpected attestor type %T", a)
	}
	if _, err := NewAttestor("sev"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
