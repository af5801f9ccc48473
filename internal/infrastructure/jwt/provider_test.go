package jwtinfra

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeyPair(t *testing.T) (privPath, pubPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()

	privPath = filepath.Join(dir, "private_key.pem")
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPath = filepath.Join(dir, "public_key.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))
	return privPath, pubPath
}

func TestProvider_SignVerify(t *testing.T) {
	priv, pub := writeKeyPair(t)
	p, err := NewProvider(priv, pub, time.Hour)
	require.NoError(t, err)

	tok, err := p.Sign("chat-gateway", "gateway")
	require.NoError(t, err)
	claims, err := p.Verify(tok)

	require.NoError(t, err)
	assert.Equal(t, "chat-gateway", claims.Subject)
	assert.Equal(t, "gateway", claims.Role)
}

func TestProvider_ExpiredTokenRejected(t *testing.T) {
	priv, pub := writeKeyPair(t)
	p, err := NewProvider(priv, pub, -time.Minute)
	require.NoError(t, err)

	tok, err := p.Sign("svc", "admin")
	require.NoError(t, err)
	_, err = p.Verify(tok)

	assert.Error(t, err)
}

func TestProvider_VerifyOnlyCannotSign(t *testing.T) {
	_, pub := writeKeyPair(t)
	p, err := NewProvider("", pub, time.Hour)
	require.NoError(t, err)

	_, err = p.Sign("svc", "admin")

	assert.ErrorIs(t, err, errNoSigningKey)
}

func TestProvider_ForeignKeyRejected(t *testing.T) {
	priv, _ := writeKeyPair(t)
	_, otherPub := writeKeyPair(t)
	signer, err := NewProvider(priv, otherPub, time.Hour)
	require.NoError(t, err)

	tok, err := signer.Sign("svc", "admin")
	require.NoError(t, err)
	_, err = signer.Verify(tok)

	assert.Error(t, err)
}
