package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
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

func TestClientOptions_Plaintext(t *testing.T) {
	tc := TemporalConfig{Address: "temporal:7233", Namespace: "mail"}
	opts, err := tc.ClientOptions()
	require.NoError(t, err)
	assert.Equal(t, "temporal:7233", opts.HostPort)
	assert.Equal(t, "mail", opts.Namespace)
	assert.Nil(t, opts.ConnectionOptions.TLS)
}

func TestClientOptions_CertWithoutKey(t *testing.T) {
	tc := TemporalConfig{Address: "temporal:7233", TLSCert: "/tmp/cert.pem"}
	_, err := tc.ClientOptions()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs both")
}

func TestClientOptions_MissingCertFile(t *testing.T) {
	tc := TemporalConfig{TLSCert: "/nonexistent/cert.pem", TLSKey: "/nonexistent/key.pem"}
	_, err := tc.ClientOptions()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load temporal client cert")
}

func TestClientOptions_MutualTLS(t *testing.T) {
	certPath, keyPath, caPath := generateTestCert(t)

	tc := TemporalConfig{
		Address:       "temporal:7233",
		TLSCert:       certPath,
		TLSKey:        keyPath,
		TLSCACert:     caPath,
		TLSServerName: "temporal.internal",
	}
	opts, err := tc.ClientOptions()
	require.NoError(t, err)
	require.NotNil(t, opts.ConnectionOptions.TLS)
	assert.Len(t, opts.ConnectionOptions.TLS.Certificates, 1)
	assert.NotNil(t, opts.ConnectionOptions.TLS.RootCAs)
	assert.Equal(t, "temporal.internal", opts.ConnectionOptions.TLS.ServerName)
}

func TestClientOptions_InvalidCACert(t *testing.T) {
	certPath, keyPath, _ := generateTestCert(t)

	badCA := filepath.Join(t.TempDir(), "bad-ca.pem")
	require.NoError(t, os.WriteFile(badCA, []byte("not a cert"), 0o600))

	tc := TemporalConfig{TLSCert: certPath, TLSKey: keyPath, TLSCACert: badCA}
	_, err := tc.ClientOptions()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse temporal CA cert")
}

// generateTestCert creates a CA and a client cert signed by it and returns
// the paths to (cert.pem, key.pem, ca.pem).
func generateTestCert(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mailcore test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caPath := filepath.Join(dir, "ca.pem")
	writePEM(t, caPath, "CERTIFICATE", caDER)

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "mail-worker"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	clientDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caTemplate, &clientKey.PublicKey, caKey)
	require.NoError(t, err)
	certPath := filepath.Join(dir, "cert.pem")
	writePEM(t, certPath, "CERTIFICATE", clientDER)

	keyDER, err := x509.MarshalECPrivateKey(clientKey)
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "key.pem")
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)

	return certPath, keyPath, caPath
}

func writePEM(t *testing.T, path, blockType string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, &pem.Block{Type: blockType, Bytes: data}))
}
