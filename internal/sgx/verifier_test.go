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
	"crypto/x509"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mockRoots() *x509.CertPool {
	return DefaultMockCA().Roots()
}

func mustQuote(t *testing.T, a *MockAttestor) []byte {
	t.Helper()
	raw, err := a.Quote([ReportDataSize]byte{})
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	return raw
}

func TestPolicyVerifierAcceptsAllowlisted(t *testing.T) {
	a := NewMockAttestor()
	raw := mustQuote(t, a)

	v, err := NewVerifierFromLists(mockRoots(),
		[]string{"0x" + hex.EncodeToString(a.MREnclave())},
		[]string{hex.EncodeToString(a.MRSigner())},
		false,
	)
	if err != nil {
		t.Fatalf("NewVerifierFromLists failed: %v", err)
	}
	if _, err := v.VerifyQuote(raw); err != nil {
		t.Fatalf("VerifyQuote failed: %v", err)
	}
}

func TestPolicyVerifierEmptyAllowlist(t *testing.T) {
	raw := mustQuote(t, NewMockAttestor())
	if _, err := NewPolicyVerifier(mockRoots(), false).VerifyQuote(raw); err != nil {
		t.Fatalf("empty allowlist should accept any measurement: %v", err)
	}
}

// resign replaces the signature section of a quote while keeping its body.
func resign(t *testing.T, raw []byte, edit func(sd *signatureData)) []byte {
	t.Helper()
	sd, err := parseSignatureData(raw)
	if err != nil {
		t.Fatalf("parseSignatureData failed: %v", err)
	}
	cp := *sd
	cp.Signature = append([]byte(nil), sd.Signature...)
	cp.QEReport = append([]byte(nil), sd.QEReport...)
	edit(&cp)
	return appendSignatureData(raw[:quoteBodyEnd], &cp)
}

func TestPolicyVerifierRejects(t *testing.T) {
	var other [32]byte
	other[0] = 0xaa

	foreign, err := NewMockCA()
	if err != nil {
		t.Fatalf("NewMockCA failed: %v", err)
	}
	foreignAttestor, err := foreign.NewAttestor([32]byte{1}, [32]byte{2})
	if err != nil {
		t.Fatalf("NewAttestor failed: %v", err)
	}
	valid := mustQuote(t, NewMockAttestorWith([32]byte{1}, [32]byte{2}))

	tampered := append([]byte(nil), valid...)
	tampered[mrenclaveOffset] ^= 0xff

	tests := []struct {
		name  string
		quote []byte
		roots *x509.CertPool
		setup func(v *PolicyVerifier)
	}{
		{
			name:  "mrenclave",
			quote: valid,
			setup: func(v *PolicyVerifier) { v.AllowMREnclave(other) },
		},
		{
			name:  "mrsigner",
			quote: valid,
			setup: func(v *PolicyVerifier) { v.AllowMRSigner(other) },
		},
		{
			name:  "debug",
			quote: mustQuote(t, NewMockAttestorWith([32]byte{1}, [32]byte{2}).WithDebug()),
		},
		{
			name:  "no signature",
			quote: valid[:quoteBodyEnd],
		},
		{
			name:  "truncated",
			quote: make([]byte, 100),
		},
		{
			name:  "tampered body",
			quote: tampered,
		},
		{
			name: "zero signature",
			quote: resign(t, valid, func(sd *signatureData) {
				sd.Signature = make([]byte, ecdsaSigSize)
			}),
		},
		{
			name: "unbound attestation key",
			quote: resign(t, valid, func(sd *signatureData) {
				sd.QEReport[qeReportDataStart] ^= 0xff
			}),
		},
		{
			name: "missing certification data",
			quote: resign(t, valid, func(sd *signatureData) {
				sd.CertData = nil
			}),
		},
		{
			name:  "untrusted root",
			quote: mustQuote(t, foreignAttestor),
		},
		{
			name:  "no roots",
			quote: valid,
			roots: x509.NewCertPool(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roots := tt.roots
			if roots == nil {
				roots = mockRoots()
			}
			v := NewPolicyVerifier(roots, false)
			if tt.setup != nil {
				tt.setup(v)
			}
			if _, err := v.VerifyQuote(tt.quote); !errors.Is(err, ErrQuoteRejected) {
				t.Fatalf("expected ErrQuoteRejected, got %v", err)
			}
		})
	}
}

func TestPolicyVerifierNilRoots(t *testing.T) {
	raw := mustQuote(t, NewMockAttestor())
	if _, err := NewPolicyVerifier(nil, false).VerifyQuote(raw); !errors.Is(err, ErrQuoteRejected) {
		t.Fatalf("expected ErrQuoteRejected, got %v", err)
	}
}

func TestPolicyVerifierForeignRoot(t *testing.T) {
	ca, err := NewMockCA()
	if err != nil {
		t.Fatalf("NewMockCA failed: %v", err)
	}
	a, err := ca.NewAttestor([32]byte{7}, [32]byte{8})
	if err != nil {
		t.Fatalf("NewAttestor failed: %v", err)
	}
	raw := mustQuote(t, a)
	if _, err := NewPolicyVerifier(ca.Roots(), false).VerifyQuote(raw); err != nil {
		t.Fatalf("quote should verify under its own root: %v", err)
	}
	if _, err := NewPolicyVerifier(mockRoots(), false).VerifyQuote(raw); !errors.Is(err, ErrQuoteRejected) {
		t.Fatalf("expected ErrQuoteRejected under the default root, got %v", err)
	}
}

func TestPolicyVerifierAllowDebug(t *testing.T) {
	raw := mustQuote(t, NewMockAttestorWith([32]byte{1}, [32]byte{2}).WithDebug())
	if _, err := NewPolicyVerifier(mockRoots(), true).VerifyQuote(raw); err != nil {
		t.Fatalf("debug quote should be accepted: %v", err)
	}
}

func TestTrustedRoots(t *testing.T) {
	if _, err := TrustedRoots(ModeGramine, ""); err == nil {
		t.Error("expected error without a root file in gramine mode")
	}
	pool, err := TrustedRoots(ModeMock, "")
	if err != nil {
		t.Fatalf("TrustedRoots failed: %v", err)
	}
	raw := mustQuote(t, NewMockAttestor())
	if _, err := NewPolicyVerifier(pool, false).VerifyQuote(raw); err != nil {
		t.Fatalf("VerifyQuote failed: %v", err)
	}

	ca, err := NewMockCA()
	if err != nil {
		t.Fatalf("NewMockCA failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "roots.pem")
	if err := os.WriteFile(path, ca.pem, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	pool, err = TrustedRoots(ModeGramine, path)
	if err != nil {
		t.Fatalf("TrustedRoots failed: %v", err)
	}
	if _, err := NewPolicyVerifier(pool, false).VerifyQuote(raw); !errors.Is(err, ErrQuoteRejected) {
		t.Fatalf("expected ErrQuoteRejected, got %v", err)
	}
}

func TestParseMeasurement(t *testing.T) {
	if _, err := ParseMeasurement("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
	if _, err := ParseMeasurement("0x0102"); err == nil {
		t.Error("expected error for short measurement")
	}
	m, err := ParseMeasurement("0x" + hex.EncodeToString(make([]byte, 32)))
	if err != nil {
		t.Fatalf("ParseMeasurement failed: %v", err)
	}
	if m != ([32]byte{}) {
		t.Errorf("unexpected measurement %x", m)
	}
}
