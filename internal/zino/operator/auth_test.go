package operator_test

import (
	"crypto/sha1" //nolint:gosec // test mirrors the protocol's mandated digest
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zinolabs/zino/internal/zino/operator"
)

func TestLoadSecretsParsesLines(t *testing.T) {
	t.Parallel()
	r := strings.NewReader("alice secret1\n\ncarol secret3\nbob secret2\n")
	secrets, err := operator.LoadSecrets(r)
	require.NoError(t, err)
	require.Len(t, secrets, 3)
}

func TestLoadSecretsRejectsMalformedLine(t *testing.T) {
	t.Parallel()
	_, err := operator.LoadSecrets(strings.NewReader("alice\n"))
	require.Error(t, err)
}

func TestSecretsVerify(t *testing.T) {
	t.Parallel()
	secrets, err := operator.LoadSecrets(strings.NewReader("alice swordfish\n"))
	require.NoError(t, err)

	challenge := "abc123"
	sum := sha1.Sum([]byte(challenge + " swordfish")) //nolint:gosec
	resp := hex.EncodeToString(sum[:])

	require.True(t, secrets.Verify("alice", challenge, resp))
	require.False(t, secrets.Verify("alice", challenge, "wrong"))
	require.False(t, secrets.Verify("nobody", challenge, resp))
}
