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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto/secp256r1"
)

const (
	attestationKeyP256 = 2

	// certTypePCKChain marks certification data holding the PEM encoded PCK
	// leaf, intermediate and root certificates.
	certTypePCKChain = 5

	ecdsaSigSize      = 64
	ecdsaKeySize      = 64
	qeReportSize      = 384
	qeReportDataStart = 320
)

// signatureData is the ECDSA-P256 signature section of a DCAP v3 quote.
type signatureData struct {
	Signature         []byte // r || s over header and report body
	AttestationKey    []byte // x || y
	QEReport          []byte
	QEReportSignature []byte // r || s by the PCK key over the QE report
	QEAuthData        []byte
	CertType          uint16
	CertData          []byte
}

func parseSignatureData(quote []byte) (*signatureData, error) {
	if len(quote) < quoteBodyEnd+4 {
		return nil, errors.New("missing signature data")
	}
	size := binary.LittleEndian.Uint32(quote[quoteBodyEnd:])
	rest := quote[quoteBodyEnd+4:]
	if uint64(size) != uint64(len(rest)) {
		return nil, fmt.Errorf("signature data length mismatch: header %d, have %d", size, len(rest))
	}
	fixed := ecdsaSigSize + ecdsaKeySize + qeReportSize + ecdsaSigSize
	if len(rest) < fixed+2 {
		return nil, fmt.Errorf("signature data too short: %d bytes", len(rest))
	}
	sd := &signatureData{
		Signature:         rest[0:64],
		AttestationKey:    rest[64:128],
		QEReport:          rest[128 : 128+qeReportSize],
		QEReportSignature: rest[128+qeReportSize : fixed],
	}
	rest = rest[fixed:]
	authLen := int(binary.LittleEndian.Uint16(rest))
	rest = rest[2:]
	if len(rest) < authLen+6 {
		return nil, errors.New("truncated QE authentication data")
	}
	sd.QEAuthData = rest[:authLen]
	rest = rest[authLen:]
	sd.CertType = binary.LittleEndian.Uint16(rest)
	certLen := binary.LittleEndian.Uint32(rest[2:])
	rest = rest[6:]
	if uint64(certLen) != uint64(len(rest)) {
		return nil, fmt.Errorf("certification data length mismatch: header %d, have %d", certLen, len(rest))
	}
	sd.CertData = rest
	return sd, nil
}

// appendSignatureData serializes sd after a quote body.
func appendSignatureData(body []byte, sd *signatureData) []byte {
	size := len(sd.Signature) + len(sd.AttestationKey) + len(sd.QEReport) + len(sd.QEReportSignature) +
		2 + len(sd.QEAuthData) + 6 + len(sd.CertData)
	out := make([]byte, 0, len(body)+4+size)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, uint32(size))
	out = append(out, sd.Signature...)
	out = append(out, sd.AttestationKey...)
	out = append(out, sd.QEReport...)
	out = append(out, sd.QEReportSignature...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(sd.QEAuthData)))
	out = append(out, sd.QEAuthData...)
	out = binary.LittleEndian.AppendUint16(out, sd.CertType)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(sd.CertData)))
	return append(out, sd.CertData...)
}

// verifyQuoteSignature checks the chain of trust of an ECDSA-P256 quote:
// the PCK certificate chains to roots, the PCK key signs the QE report, the
// QE report commits to the attestation key and the attestation key signs the
// quote header and report body.
func verifyQuoteSignature(quote []byte, version, keyType uint16, roots *x509.CertPool) error {
	if version != 3 {
		return fmt.Errorf("unsupported quote version %d", version)
	}
	if keyType != attestationKeyP256 {
		return fmt.Errorf("unsupported attestation key type %d", keyType)
	}
	sd, err := parseSignatureData(quote)
	if err != nil {
		return err
	}
	if err := verifyQuoteMainSignature(quote[:quoteBodyEnd], sd.Signature, sd.AttestationKey); err != nil {
		return err
	}
	binding := sha256.Sum256(append(append([]byte(nil), sd.AttestationKey...), sd.QEAuthData...))
	if !bytes.Equal(sd.QEReport[qeReportDataStart:qeReportDataStart+32], binding[:]) {
		return errors.New("QE report does not bind the attestation key")
	}
	pck, err := verifyPCKChain(sd, roots)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(sd.QEReport)
	if !verifyRS(digest[:], sd.QEReportSignature, pck.X, pck.Y) {
		return errors.New("QE report signature verification failed")
	}
	return nil
}

// verifyQuoteMainSignature verifies the attestation key signature over the
// quote header and report body.
func verifyQuoteMainSignature(signed, signature, pubKey []byte) error {
	digest := sha256.Sum256(signed)
	x := new(big.Int).SetBytes(pubKey[:32])
	y := new(big.Int).SetBytes(pubKey[32:64])
	if !verifyRS(digest[:], signature, x, y) {
		return errors.New("quote signature verification failed")
	}
	return nil
}

func verifyRS(digest, signature []byte, x, y *big.Int) bool {
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])
	return secp256r1.Verify(digest, r, s, x, y)
}

// verifyPCKChain verifies the PEM chain carried in the certification data
// and returns the PCK leaf key.
func verifyPCKChain(sd *signatureData, roots *x509.CertPool) (*ecdsa.PublicKey, error) {
	if roots == nil {
		return nil, errors.New("no trusted PCK roots configured")
	}
	if sd.CertType != certTypePCKChain {
		return nil, fmt.Errorf("unsupported certification data type %d", sd.CertType)
	}
	var certs []*x509.Certificate
	rest := sd.CertData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid PCK certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("empty PCK certificate chain")
	}
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("PCK chain verification failed: %w", err)
	}
	pub, ok := certs[0].PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errors.New("PCK key is not ECDSA-P256")
	}
	return pub, nil
}
