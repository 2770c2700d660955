package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	k1 := DeriveKey("some-api-key")
	k2 := DeriveKey("some-api-key")
	assert.Equal(t, k1, k2, "both sides must derive the same key")
	assert.Len(t, k1, 32)

	k3 := DeriveKey("another-key")
	assert.NotEqual(t, k1, k3)
}

func TestSealOpen_Roundtrip(t *testing.T) {
	key := DeriveKey("secret")

	sealed, err := Seal(key, "nats://core.internal:4222")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "nats://", "ciphertext must not leak plaintext")

	plain, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "nats://core.internal:4222", plain)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	sealed, err := Seal(DeriveKey("right"), "payload")
	require.NoError(t, err)

	_, err = Open(DeriveKey("wrong"), sealed)
	assert.Error(t, err)
}

func TestAPIKey_PrefixAndHash(t *testing.T) {
	apiKey, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(apiKey), 32)

	prefix := APIKeyPrefix(apiKey)
	assert.Len(t, prefix, APIKeyPrefixLen)

	hash, err := HashAPIKey(apiKey)
	require.NoError(t, err)
	assert.True(t, VerifyAPIKey(apiKey, hash))
	assert.False(t, VerifyAPIKey(apiKey+"x", hash), "a prefix hit with the wrong key must not verify")
}

func TestCA_IssueAgentCert(t *testing.T) {
	dir := t.TempDir()
	ca, err := LoadOrCreateCA(filepath.Join(dir, "ca.key"), filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)

	// Reloading uses the persisted material
	reloaded, err := LoadOrCreateCA(filepath.Join(dir, "ca.key"), filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)
	assert.Equal(t, ca.CertPEM(), reloaded.CertPEM())

	creds, err := ca.IssueAgentCert("3e0c4a9e-8e6a-44e2-b1c8-8fbd86f2f8aa")
	require.NoError(t, err)
	assert.NotEmpty(t, creds.ClientKey)
	assert.Equal(t, ca.CertPEM(), creds.CACert)

	block, _ := pem.Decode([]byte(creds.ClientCert))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "3e0c4a9e-8e6a-44e2-b1c8-8fbd86f2f8aa", cert.Subject.CommonName)
	assert.Contains(t, cert.ExtKeyUsage, x509.ExtKeyUsageClientAuth)

	// Chain validation against the root
	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM([]byte(ca.CertPEM())))
	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	assert.NoError(t, err)

	caBlock, _ := pem.Decode([]byte(ca.CertPEM()))
	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	require.NoError(t, err)
	assert.Equal(t, caCert.SubjectKeyId, cert.AuthorityKeyId, "AKI must chain to the root SKI")
}
