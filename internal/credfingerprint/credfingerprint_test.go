// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package credfingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_EmptySecretYieldsEmptyFingerprint(t *testing.T) {
	fp, err := Fingerprint("")
	require.NoError(t, err)
	assert.Empty(t, fp)
}

func TestRotated_DetectsChangedSecret(t *testing.T) {
	fp, err := Fingerprint("token-v1")
	require.NoError(t, err)

	assert.False(t, Rotated(fp, "token-v1"))
	assert.True(t, Rotated(fp, "token-v2"))
}

func TestRotated_EmptyFingerprintNeverRotated(t *testing.T) {
	assert.False(t, Rotated("", "anything"))
}
