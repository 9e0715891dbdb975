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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// QuoteOID is the certificate extension carrying the quote, as used by
// Gramine's RA-TLS library.
var QuoteOID = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}

// certificateLifetime bounds how long an RA-TLS certificate is accepted.
const certificateLifetime = time.Hour

var (
	// ErrNoQuote is returned for certificates without a quote extension.
	ErrNoQuote = errors.New("no quote in certificate")

	// ErrBindingMismatch is returned when the report data does not commit
	// to the certificate key or the expected binding.
	ErrBindingMismatch = errors.New("report data binding mismatch")
)

// ReportData commits to a certificate key and an application binding:
// sha256(spki) || sha256(binding).
func ReportData(spki, binding []byte) [ReportDataSize]byte {
	var rd [ReportDataSize]byte
	keyHash := sha256.Sum256(spki)
	bindingHash := sha256.Sum256(binding)
	copy(rd[:32], keyHash[:])
	copy(rd[32:], bindingHash[:])
	return rd
}

// NewCertificate creates a self signed certificate on a fresh P-256 key
// whose quote commits to the key and to binding.
func NewCertificate(a Attestor, binding []byte) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS key: %w", err)
	}
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TLS key: %w", err)
	}
	quote, err := a.Quote(ReportData(spki, binding))
	if err != nil {
		return nil, fmt.Errorf("failed to generate quote: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "swisstronik-enclave"},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(certificateLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		ExtraExtensions: []pkix.Extension{
			{Id: QuoteOID, Value: quote},
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// VerifyCertificate checks the certificate's quote against v and that the
// quote commits to the certificate key. The binding is checked separately
// with CheckBinding once it is known.
func VerifyCertificate(v Verifier, cert *x509.Certificate) (*Quote, error) {
	var raw []byte
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(QuoteOID) {
			raw = ext.Value
			break
		}
	}
	if raw == nil {
		return nil, ErrNoQuote
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("certificate not valid at %s", now.Format(time.RFC3339))
	}
	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return nil, fmt.Errorf("invalid certificate signature: %w", err)
	}
	q, err := v.VerifyQuote(raw)
	if err != nil {
		return nil, err
	}
	keyHash := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	if subtle.ConstantTimeCompare(keyHash[:], q.ReportData[:32]) != 1 {
		return nil, fmt.Errorf("%w: certificate key", ErrBindingMismatch)
	}
	return q, nil
}

// CheckBinding verifies that q commits to binding.
func CheckBinding(q *Quote, binding []byte) error {
	h := sha256.Sum256(binding)
	if subtle.ConstantTimeCompare(h[:], q.ReportData[32:]) != 1 {
		return ErrBindingMismatch
	}
	return nil
}

// VerifyPeerFunc adapts VerifyCertificate to tls.Config.VerifyPeerCertificate
// for self signed RA-TLS peers.
func VerifyPeerFunc(v Verifier) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("peer sent no certificate")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("failed to parse peer certificate: %w", err)
		}
		_, err = VerifyCertificate(v, cert)
		return err
	}
}

// PeerQuote returns the verified quote of the peer of an established
// connection.
func PeerQuote(v Verifier, state tls.ConnectionState) (*Quote, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("peer sent no certificate")
	}
	return VerifyCertificate(v, state.PeerCertificates[0])
}

// ServerConfig returns a TLS configuration presenting the certificates
// produced by getCert and requiring an attested client certificate.
func ServerConfig(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error), v Verifier) *tls.Config {
	return &tls.Config{
		GetCertificate:        getCert,
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: VerifyPeerFunc(v),
		MinVersion:            tls.VersionTLS13,
	}
}

// ClientConfig returns a TLS configuration presenting cert and accepting
// only attested servers. Chain verification is replaced by quote checks.
func ClientConfig(cert *tls.Certificate, v Verifier) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{*cert},
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: VerifyPeerFunc(v),
		MinVersion:            tls.VersionTLS13,
	}
}
