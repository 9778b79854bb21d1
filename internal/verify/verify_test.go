// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package verify

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return pub, priv
}

func TestVerifyRawSignature(t *testing.T) {
	pub, priv := genKey(t)
	payload := []byte("hello world")
	sig := ed25519.Sign(priv, payload)

	if err := Verify(payload, sig, pub); err != nil {
		t.Fatalf("expected valid raw signature to verify, got %v", err)
	}
}

func TestVerifyBase64Signature(t *testing.T) {
	pub, priv := genKey(t)
	payload := []byte("hello world")
	sig := ed25519.Sign(priv, payload)
	encoded := []byte(base64.StdEncoding.EncodeToString(sig))

	if err := Verify(payload, encoded, pub); err != nil {
		t.Fatalf("expected valid base64 signature to verify, got %v", err)
	}
}

func TestVerifyBase64URLSignature(t *testing.T) {
	pub, priv := genKey(t)
	payload := []byte("hello world")
	sig := ed25519.Sign(priv, payload)
	encoded := []byte(base64.URLEncoding.EncodeToString(sig))

	if err := Verify(payload, encoded, pub); err != nil {
		t.Fatalf("expected valid base64url signature to verify, got %v", err)
	}
}

func TestVerifyWrongLengthRejected(t *testing.T) {
	pub, _ := genKey(t)
	if err := Verify([]byte("x"), []byte("too-short"), pub); err == nil {
		t.Error("expected a too-short signature to be rejected")
	}
}

func TestVerifyMismatchRejected(t *testing.T) {
	pub, priv := genKey(t)
	sig := ed25519.Sign(priv, []byte("original"))
	if err := Verify([]byte("tampered"), sig, pub); err != ErrSignatureMismatch {
		t.Errorf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifyAllZeroKeyRejected(t *testing.T) {
	_, priv := genKey(t)
	payload := []byte("hello")
	sig := ed25519.Sign(priv, payload)
	zeroKey := make([]byte, ed25519.PublicKeySize)

	if err := Verify(payload, sig, zeroKey); err != ErrKeyInvalid {
		t.Errorf("expected ErrKeyInvalid for an all-zero key, got %v", err)
	}
}

func TestVerifyDecodeFailure(t *testing.T) {
	pub, _ := genKey(t)
	if err := Verify([]byte("x"), []byte("not valid base64 at all !!"), pub); err == nil {
		t.Error("expected undecodable signature text to be rejected")
	}
}
