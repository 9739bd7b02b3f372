package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestPFX(t *testing.T, password string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pkcs12-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pfxData, err := pkcs12.Encode(rand.Reader, key, cert, nil, password)
	require.NoError(t, err)
	return pfxData
}

func TestFromPKCS12_DecodesRSAIdentity(t *testing.T) {
	pfxData := buildTestPFX(t, "hunter2")

	id, err := FromPKCS12(pfxData, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, RSA, id.Algorithm)
	assert.Contains(t, id.Subject, "pkcs12-test")
	require.Len(t, id.Chain, 1)
}

func TestFromPKCS12_WrongPasswordIsError(t *testing.T) {
	pfxData := buildTestPFX(t, "hunter2")

	_, err := FromPKCS12(pfxData, "wrong-password")
	assert.Error(t, err)
}
