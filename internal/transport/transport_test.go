package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSignedCert writes a self-signed cert/key pair to dir and returns
// their paths; the cert path doubles as a CA bundle since the cert is
// self-signed.
func writeSelfSignedCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "federator-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func TestBuildServerTLSConfigLoadsCertChain(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir)

	cfg, err := buildServerTLSConfig(Options{
		CertChainFile:  certPath,
		PrivateKeyFile: keyPath,
	})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Nil(t, cfg.ClientCAs)
	assert.Equal(t, 0, int(cfg.ClientAuth)) // tls.NoClientCert
}

func TestBuildServerTLSConfigRejectsMissingCert(t *testing.T) {
	_, err := buildServerTLSConfig(Options{
		CertChainFile:  "/no/such/cert.pem",
		PrivateKeyFile: "/no/such/key.pem",
	})
	require.Error(t, err)
}

func TestBuildServerTLSConfigWithClientCertRequiresCA(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir)

	_, err := buildServerTLSConfig(Options{
		CertChainFile:     certPath,
		PrivateKeyFile:    keyPath,
		RequireClientCert: true,
		CAPem:             "/no/such/ca.pem",
	})
	require.Error(t, err)
}

func TestBuildServerTLSConfigLoadsClientCAPool(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir)

	cfg, err := buildServerTLSConfig(Options{
		CertChainFile:     certPath,
		PrivateKeyFile:    keyPath,
		RequireClientCert: true,
		CAPem:             certPath,
	})
	require.NoError(t, err)
	assert.NotNil(t, cfg.ClientCAs)
	assert.Equal(t, 4, int(cfg.ClientAuth)) // tls.RequireAndVerifyClientCert
}

func TestNewServerBuildsWithoutTLS(t *testing.T) {
	srv, err := NewServer(Options{
		Port:             50051,
		KeepAliveTime:    30 * time.Second,
		KeepAliveTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.NotNil(t, srv)
}

func TestNewServerBuildsWithTLS(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir)

	srv, err := NewServer(Options{
		Port:             50051,
		KeepAliveTime:    30 * time.Second,
		KeepAliveTimeout: 5 * time.Second,
		TLSEnabled:       true,
		CertChainFile:    certPath,
		PrivateKeyFile:   keyPath,
	})
	require.NoError(t, err)
	assert.NotNil(t, srv)
}

func TestNewServerPropagatesTLSError(t *testing.T) {
	_, err := NewServer(Options{
		TLSEnabled:     true,
		CertChainFile:  "/no/such/cert.pem",
		PrivateKeyFile: "/no/such/key.pem",
	})
	require.Error(t, err)
}

func TestDialOptionsWithoutTLSUsesInsecureCredentials(t *testing.T) {
	opts := DialOptions(30*time.Second, 5*time.Second, false)
	assert.Len(t, opts, 2)
}

func TestDialOptionsWithTLSUsesTLSCredentials(t *testing.T) {
	opts := DialOptions(30*time.Second, 5*time.Second, true)
	assert.Len(t, opts, 2)
}
