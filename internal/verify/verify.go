// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package verify implements the Signed Artifact Verifier (component
// H, spec §4.H): Ed25519 signature checking over a detached signature
// against an embedded verifying key, with a normalization step for the
// two accepted signature encodings.
package verify

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrWrongLength is returned when the decoded signature is not 64 bytes.
var ErrWrongLength = errors.New("verify: signature is not 64 bytes after decoding")

// ErrDecodeFailed is returned when a textual signature is neither raw
// bytes nor valid base64/base64url.
var ErrDecodeFailed = errors.New("verify: could not decode signature")

// ErrSignatureMismatch is returned when decoding succeeds but the
// signature does not verify against the payload and key.
var ErrSignatureMismatch = errors.New("verify: signature does not match payload")

// ErrKeyInvalid is returned for a verifying key that is not exactly 32
// bytes, or is the all-zero placeholder (spec §9: the verifier must
// never succeed against an all-zero key).
var ErrKeyInvalid = errors.New("verify: verifying key is invalid or a placeholder")

// normalizeSignature accepts either a raw 64-byte signature or its
// base64/base64url textual encoding and returns the raw bytes.
func normalizeSignature(raw []byte) ([]byte, error) {
	if len(raw) == ed25519.SignatureSize {
		return raw, nil
	}

	text := strings.TrimSpace(string(raw))
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(text); err == nil {
			if len(decoded) == ed25519.SignatureSize {
				return decoded, nil
			}
			return nil, ErrWrongLength
		}
	}
	return nil, ErrDecodeFailed
}

// isAllZero reports whether every byte of key is zero.
func isAllZero(key []byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}

// Verify checks the detached signature sigBytes against payload using
// verifyingKey, a 32-byte Ed25519 public key. The payload is verified
// byte-for-byte exactly as presented — no reformatting.
func Verify(payload, sigBytes, verifyingKey []byte) error {
	if len(verifyingKey) != ed25519.PublicKeySize || isAllZero(verifyingKey) {
		return ErrKeyInvalid
	}
	sig, err := normalizeSignature(sigBytes)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(verifyingKey), payload, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// DecodeKey decodes a base64-encoded 32-byte verifying key, rejecting
// the all-zero placeholder.
func DecodeKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		if key2, err2 := base64.RawStdEncoding.DecodeString(strings.TrimSpace(b64)); err2 == nil {
			key = key2
		} else {
			return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
		}
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: decoded key is %d bytes, want %d", ErrKeyInvalid, len(key), ed25519.PublicKeySize)
	}
	if isAllZero(key) {
		return nil, ErrKeyInvalid
	}
	return key, nil
}

// placeholder keys are documented as such; a production deployment
// must substitute real verifying keys before the verifier can succeed
// (spec §9 open question).
var (
	LicenseVerifyingKeyPlaceholder    = bytes.Repeat([]byte{0x00}, ed25519.PublicKeySize)
	ThreatFeedVerifyingKeyPlaceholder = bytes.Repeat([]byte{0x00}, ed25519.PublicKeySize)
)
