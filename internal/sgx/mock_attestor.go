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
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// mockRootSeed derives the key of the well known mock PCK root. Quotes
// chaining to it prove nothing and are only accepted in mock mode.
const mockRootSeed = "swtr mock sgx root ca"

// MockCA plays the role of the PCK certificate hierarchy for mock attestors.
type MockCA struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
	pem  []byte
}

var defaultMockCA = sync.OnceValue(func() *MockCA {
	seed := sha256.Sum256([]byte(mockRootSeed))
	priv, err := ecdh.P256().NewPrivateKey(seed[:])
	if err != nil {
		panic(fmt.Sprintf("mock root key: %v", err))
	}
	pub := priv.PublicKey().Bytes() // 0x04 || x || y
	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:65]),
		},
		D: new(big.Int).SetBytes(seed[:]),
	}
	ca, err := newMockCA(key)
	if err != nil {
		panic(fmt.Sprintf("mock root certificate: %v", err))
	}
	return ca
})

// DefaultMockCA returns the process independent mock root used by
// NewMockAttestor and by verifiers in mock mode.
func DefaultMockCA() *MockCA {
	return defaultMockCA()
}

// NewMockCA returns a mock root with a fresh random key.
func NewMockCA() (*MockCA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return newMockCA(key)
}

func newMockCA(key *ecdsa.PrivateKey) (*MockCA, error) {
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return nil, err
	}
	ski := sha256.Sum256(pub.Bytes())
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "SWTR Mock SGX Root CA"},
		SubjectKeyId:          ski[:20],
		NotBefore:             time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &MockCA{
		key:  key,
		cert: cert,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}, nil
}

// Roots returns a pool holding the mock root certificate.
func (ca *MockCA) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	return pool
}

// NewAttestor returns an attestor whose quotes chain to ca.
func (ca *MockCA) NewAttestor(mrenclave, mrsigner [32]byte) (*MockAttestor, error) {
	attKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	pckKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "SWTR Mock SGX PCK Certificate"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &pckKey.PublicKey, ca.key)
	if err != nil {
		return nil, err
	}
	chain := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return &MockAttestor{
		mrenclave: mrenclave,
		mrsigner:  mrsigner,
		attKey:    attKey,
		pckKey:    pckKey,
		certData:  append(chain, ca.pem...),
	}, nil
}

func (ca *MockCA) mustAttestor(mrenclave, mrsigner [32]byte) *MockAttestor {
	a, err := ca.NewAttestor(mrenclave, mrsigner)
	if err != nil {
		panic(fmt.Sprintf("mock attestor: %v", err))
	}
	return a
}

// MockAttestor produces signed quotes outside an enclave.
type MockAttestor struct {
	mrenclave [32]byte
	mrsigner  [32]byte
	debug     bool

	attKey   *ecdsa.PrivateKey
	pckKey   *ecdsa.PrivateKey
	certData []byte
}

// NewMockAttestor returns an attestor with fixed measurements chaining to
// the default mock root.
func NewMockAttestor() *MockAttestor {
	var mrenclave, mrsigner [32]byte
	for i := range mrenclave {
		mrenclave[i] = byte(i)
		mrsigner[i] = byte(i + 32)
	}
	return NewMockAttestorWith(mrenclave, mrsigner)
}

// NewMockAttestorWith returns an attestor reporting the given measurements.
func NewMockAttestorWith(mrenclave, mrsigner [32]byte) *MockAttestor {
	return DefaultMockCA().mustAttestor(mrenclave, mrsigner)
}

// WithDebug returns a copy of m that reports a debug enclave.
func (m *MockAttestor) WithDebug() *MockAttestor {
	c := *m
	c.debug = true
	return &c
}

// Quote returns a signed mock quote carrying reportData.
func (m *MockAttestor) Quote(reportData [ReportDataSize]byte) ([]byte, error) {
	body := buildQuoteBody(m.mrenclave, m.mrsigner, reportData, m.debug)

	attPub := make([]byte, ecdsaKeySize)
	m.attKey.X.FillBytes(attPub[:32])
	m.attKey.Y.FillBytes(attPub[32:])

	qeReport := make([]byte, qeReportSize)
	binding := sha256.Sum256(attPub)
	copy(qeReport[qeReportDataStart:], binding[:])

	quoteSig, err := signRS(m.attKey, body)
	if err != nil {
		return nil, err
	}
	qeSig, err := signRS(m.pckKey, qeReport)
	if err != nil {
		return nil, err
	}
	return appendSignatureData(body, &signatureData{
		Signature:         quoteSig,
		AttestationKey:    attPub,
		QEReport:          qeReport,
		QEReportSignature: qeSig,
		CertType:          certTypePCKChain,
		CertData:          m.certData,
	}), nil
}

// MREnclave returns the mock MRENCLAVE.
func (m *MockAttestor) MREnclave() []byte {
	return append([]byte(nil), m.mrenclave[:]...)
}

// MRSigner returns the mock MRSIGNER.
func (m *MockAttestor) MRSigner() []byte {
	return append([]byte(nil), m.mrsigner[:]...)
}

func signRS(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig := make([]byte, ecdsaSigSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}
