package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
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

	"github.com/c360/takstreams/errors"
)

// testCert creates a self-signed certificate with the given CN
func testCert(t *testing.T, cn string) (certPEM, keyPEM []byte, cert *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"takstreams"}, CommonName: cn},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, cert
}

// writeCert writes cert.pem and key.pem; the cert doubles as its own CA
func writeCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM, _ := testCert(t, "localhost")
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return certFile, keyFile
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, keyFile := writeCert(t)
	badPEM := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(badPEM, []byte("not a cert"), 0o644))

	t.Run("disabled", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(ClientConfig{CAFiles: []string{"/missing"}})
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("system pool with extra CA", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(ClientConfig{Enabled: true, CAFiles: []string{certFile}, MinVersion: "1.3"})
		require.NoError(t, err)
		require.NotNil(t, cfg.RootCAs)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
		assert.Empty(t, cfg.Certificates)
		assert.False(t, cfg.InsecureSkipVerify)
	})

	t.Run("mtls", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(ClientConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile})
		require.NoError(t, err)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	})

	t.Run("errors are fatal", func(t *testing.T) {
		for _, c := range []ClientConfig{
			{Enabled: true, CAFiles: []string{"/missing/ca.pem"}},
			{Enabled: true, CAFiles: []string{badPEM}},
			{Enabled: true, CertFile: certFile},
		} {
			_, err := LoadClientTLSConfig(c)
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		}
	})
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile := writeCert(t)

	t.Run("disabled", func(t *testing.T) {
		cfg, err := LoadServerTLSConfig(ServerConfig{})
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("plain", func(t *testing.T) {
		cfg, err := LoadServerTLSConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile})
		require.NoError(t, err)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
		assert.Nil(t, cfg.VerifyPeerCertificate)
	})

	t.Run("optional client cert", func(t *testing.T) {
		cfg, err := LoadServerTLSConfig(ServerConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			ClientCAFiles: []string{certFile},
		})
		require.NoError(t, err)
		assert.NotNil(t, cfg.ClientCAs)
		assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	})

	t.Run("required client cert with CN allowlist", func(t *testing.T) {
		cfg, err := LoadServerTLSConfig(ServerConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			ClientCAFiles: []string{certFile}, RequireClientCert: true,
			AllowedClientCNs: []string{"tak-server"},
		})
		require.NoError(t, err)
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
		assert.NotNil(t, cfg.VerifyPeerCertificate)
	})

	t.Run("missing files", func(t *testing.T) {
		_, err := LoadServerTLSConfig(ServerConfig{Enabled: true, CertFile: "/missing", KeyFile: keyFile})
		assert.True(t, errors.IsFatal(err))

		_, err = LoadServerTLSConfig(ServerConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			ClientCAFiles: []string{"/missing/ca.pem"},
		})
		assert.True(t, errors.IsFatal(err))
	})
}

func TestVerifyAllowedClientCN(t *testing.T) {
	_, _, allowed := testCert(t, "tak-server")
	_, _, other := testCert(t, "intruder")

	assert.NoError(t, verifyAllowedClientCN(nil, []string{"tak-server"}))
	assert.NoError(t, verifyAllowedClientCN([][]*x509.Certificate{{allowed}}, []string{"tak-server"}))

	err := verifyAllowedClientCN([][]*x509.Certificate{{other}}, []string{"tak-server"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"intruder"`)
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}
