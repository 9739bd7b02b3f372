package remotesign

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/signer"
)

func testLocalIdentity(t *testing.T) *signer.Identity {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "remotesign-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	id, err := signer.FromRSA(key, "CN=remotesign-test", [][]byte{der})
	require.NoError(t, err)
	return id
}

func TestClientServer_IdentityRoundTrip(t *testing.T) {
	local := testLocalIdentity(t)
	srv := &Server{Identity: local}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient(ts.URL)
	remote, err := client.Identity(context.Background())
	require.NoError(t, err)

	assert.Equal(t, local.Algorithm, remote.Algorithm)
	assert.Equal(t, local.Subject, remote.Subject)
	assert.Equal(t, local.Chain, remote.Chain)
}

func TestClientServer_SignRoundTripVerifiesAgainstLeaf(t *testing.T) {
	local := testLocalIdentity(t)
	srv := &Server{Identity: local}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient(ts.URL)
	remote, err := client.Identity(context.Background())
	require.NoError(t, err)

	data := []byte("VEOContent.xml manifest bytes")
	sig, err := remote.Sign(data, digest.SHA256)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	cert, err := x509.ParseCertificate(local.Chain[0])
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	err = rsa.VerifyPKCS1v15(cert.PublicKey.(*rsa.PublicKey), crypto.SHA256, sum[:], sig)
	require.NoError(t, err)
}

func TestClientServer_UnknownHashAlgorithmIsRejected(t *testing.T) {
	local := testLocalIdentity(t)
	srv := &Server{Identity: local}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient(ts.URL)
	remote, err := client.Identity(context.Background())
	require.NoError(t, err)

	_, err = remote.Sign([]byte("data"), digest.Algorithm("SHA-999"))
	assert.Error(t, err)
}
