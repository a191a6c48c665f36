// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package credfingerprint hashes operator-supplied credentials (the
// Telegram bot token, the Memory service API key) so the Intervention Log
// and process logs can record "this credential changed" without ever
// persisting the credential itself. Grounded on the teacher's
// internal/config.hashSecret, which bcrypt-hashes a management secret
// before it is written back to disk; adapted here from "store a hash
// instead of plaintext" to "detect rotation between two hot-reloaded
// configs by comparing a hash", since the supervisor never persists
// PIV_TELEGRAM_BOT_TOKEN or PIV_MEMORY_API_KEY anywhere itself.
package credfingerprint

import "golang.org/x/crypto/bcrypt"

// Fingerprint returns a bcrypt hash of secret, or "" if secret is empty.
// The hash is safe to log or write to the Intervention Log: recovering
// secret from it is computationally infeasible, matching the guarantee the
// teacher relies on when persisting a hashed management key.
func Fingerprint(secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Rotated reports whether secret no longer matches fingerprint, i.e. the
// credential was changed since fingerprint was computed. An empty
// fingerprint never reports a rotation (there was nothing configured to
// rotate away from).
func Rotated(fingerprint, secret string) bool {
	if fingerprint == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(fingerprint), []byte(secret)) != nil
}
