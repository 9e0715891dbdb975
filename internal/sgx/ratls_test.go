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
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"
)

func TestCertificateRoundTrip(t *testing.T) {
	binding := []byte("registration key")
	cert, err := NewCertificate(NewMockAttestor(), binding)
	if err != nil {
		t.Fatalf("NewCertificate failed: %v", err)
	}
	q, err := VerifyCertificate(NewPolicyVerifier(mockRoots(), false), cert.Leaf)
	if err != nil {
		t.Fatalf("VerifyCertificate failed: %v", err)
	}
	if err := CheckBinding(q, binding); err != nil {
		t.Fatalf("CheckBinding failed: %v", err)
	}
	if err := CheckBinding(q, []byte("other")); !errors.Is(err, ErrBindingMismatch) {
		t.Fatalf("expected ErrBindingMismatch, got %v", err)
	}
}

func TestCertificateWithoutQuote(t *testing.T) {
	cert, err := NewCertificate(NewMockAttestor(), nil)
	if err != nil {
		t.Fatalf("NewCertificate failed: %v", err)
	}
	leaf := *cert.Leaf
	leaf.Extensions = nil
	if _, err := VerifyCertificate(NewPolicyVerifier(mockRoots(), false), &leaf); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("expected ErrNoQuote, got %v", err)
	}
}

func TestCertificateKeyMismatch(t *testing.T) {
	a, err := NewCertificate(NewMockAttestor(), nil)
	if err != nil {
		t.Fatalf("NewCertificate failed: %v", err)
	}
	b, err := NewCertificate(NewMockAttestor(), nil)
	if err != nil {
		t.Fatalf("NewCertificate failed: %v", err)
	}
	// Graft the quote of a onto the key of b.
	leaf := *b.Leaf
	leaf.Extensions = a.Leaf.Extensions
	if _, err := VerifyCertificate(NewPolicyVerifier(mockRoots(), false), &leaf); !errors.Is(err, ErrBindingMismatch) {
		t.Fatalf("expected ErrBindingMismatch, got %v", err)
	}
}

func TestMutualHandshake(t *testing.T) {
	serverCert, err := NewCertificate(NewMockAttestor(), []byte("server"))
	if err != nil {
		t.Fatalf("NewCertificate failed: %v", err)
	}
	clientCert, err := NewCertificate(NewMockAttestor(), []byte("client"))
	if err != nil {
		t.Fatalf("NewCertificate failed: %v", err)
	}
	v := NewPolicyVerifier(mockRoots(), false)

	c1, c2 := net.Pipe()
	server := tls.Server(c1, ServerConfig(staticCert(serverCert), v))
	client := tls.Client(c2, ClientConfig(clientCert, v))
	defer c1.Close()
	defer c2.Close()

	errc := make(chan error, 1)
	go func() {
		if err := server.Handshake(); err != nil {
			errc <- err
			return
		}
		q, err := PeerQuote(v, server.ConnectionState())
		if err != nil {
			errc <- err
			return
		}
		if err := CheckBinding(q, []byte("client")); err != nil {
			errc <- err
			return
		}
		_, err = server.Write([]byte("ok"))
		errc <- err
	}()

	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}
	q, err := PeerQuote(v, client.ConnectionState())
	if err != nil {
		t.Fatalf("PeerQuote failed: %v", err)
	}
	if err := CheckBinding(q, []byte("server")); err != nil {
		t.Fatalf("server binding mismatch: %v", err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(buf, []byte("ok")) {
		t.Fatalf("unexpected payload %q", buf)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server side failed: %v", err)
	}
}

func TestHandshakeRejectsUnknownEnclave(t *testing.T) {
	serverCert, _ := NewCertificate(NewMockAttestorWith([32]byte{9}, [32]byte{9}), nil)
	clientCert, _ := NewCertificate(NewMockAttestor(), nil)

	strict := NewPolicyVerifier(mockRoots(), false)
	strict.AllowMREnclave([32]byte(NewMockAttestor().MREnclave()))

	ln, err := tls.Listen("tcp", "127.0.0.1:0", ServerConfig(staticCert(serverCert), NewPolicyVerifier(mockRoots(), false)))
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.(*tls.Conn).Handshake()
		conn.Close()
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), ClientConfig(clientCert, strict))
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail")
	}
	<-done
}

func staticCert(cert *tls.Certificate) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return cert, nil }
}
