package util

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "api-cert.pem")
	keyFile := filepath.Join(dir, "tls", "api-key.pem")

	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile, []string{"localhost", "127.0.0.1", ""}))

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.True(t, cert.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	assert.NoError(t, cert.VerifyHostname("localhost"))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestEnsureCertificate_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	require.NoError(t, EnsureCertificate(certFile, keyFile, []string{"localhost"}))
	first, err := os.ReadFile(certFile)
	require.NoError(t, err)

	require.NoError(t, EnsureCertificate(certFile, keyFile, []string{"localhost"}))
	second, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.Remove(keyFile))
	require.NoError(t, EnsureCertificate(certFile, keyFile, []string{"localhost"}))
	third, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
