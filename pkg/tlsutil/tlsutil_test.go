package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchid/pkg/security"
)

// writeTestCert writes a self-signed certificate and key for cn to dir.
func writeTestCert(t *testing.T, dir, cn string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, cn+".crt")
	keyFile = filepath.Join(dir, cn+".key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestLoadServerConfig_Disabled(t *testing.T) {
	cfg, err := LoadServerConfig(security.ServerTLS{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadServerConfig_KeyPair(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeTestCert(t, dir, "localhost")

	cfg, err := LoadServerConfig(security.ServerTLS{Enabled: true, CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	cfg, err = LoadServerConfig(security.ServerTLS{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
}

func TestLoadServerConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeTestCert(t, dir, "localhost")
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0o600))

	tests := []struct {
		name string
		cfg  security.ServerTLS
	}{
		{"missing key", security.ServerTLS{Enabled: true, CertFile: certFile}},
		{"bad version", security.ServerTLS{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.0"}},
		{"unreadable cert", security.ServerTLS{Enabled: true, CertFile: filepath.Join(dir, "nope.crt"), KeyFile: keyFile}},
		{"cn list without ca", security.ServerTLS{Enabled: true, CertFile: certFile, KeyFile: keyFile, AllowedClientCNs: []string{"x"}}},
		{"invalid ca", security.ServerTLS{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{garbage}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerConfig(tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestLoadServerConfig_MutualTLS(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeTestCert(t, dir, "localhost")
	clientCert, clientKey := writeTestCert(t, dir, "console")
	otherCert, otherKey := writeTestCert(t, dir, "intruder")
	caBundle := filepath.Join(dir, "clients.pem")
	a, err := os.ReadFile(clientCert)
	require.NoError(t, err)
	b, err := os.ReadFile(otherCert)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(caBundle, append(a, b...), 0o600))

	serverCfg, err := LoadServerConfig(security.ServerTLS{
		Enabled:           true,
		CertFile:          certFile,
		KeyFile:           keyFile,
		ClientCAFiles:     []string{caBundle},
		RequireClientCert: true,
		AllowedClientCNs:  []string{"console"},
	})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, serverCfg.ClientAuth)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.(*tls.Conn).Handshake()
			_ = conn.Close()
		}
	}()

	roots := x509.NewCertPool()
	serverPEM, err := os.ReadFile(certFile)
	require.NoError(t, err)
	require.True(t, roots.AppendCertsFromPEM(serverPEM))

	dial := func(certFile, keyFile string) error {
		pair, err := tls.LoadX509KeyPair(certFile, keyFile)
		require.NoError(t, err)
		conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{
			RootCAs:      roots,
			ServerName:   "localhost",
			Certificates: []tls.Certificate{pair},
			MinVersion:   tls.VersionTLS12,
		})
		if err != nil {
			return err
		}
		defer conn.Close()
		// TLS 1.3 reports client certificate rejection on first read.
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	assert.NoError(t, dial(clientCert, clientKey))
	assert.Error(t, dial(otherCert, otherKey))
}

func TestVerifyClientCN(t *testing.T) {
	leaf := &x509.Certificate{Subject: pkix.Name{CommonName: "daq-ui"}}
	assert.NoError(t, verifyClientCN(nil, []string{"daq-ui"}))
	assert.NoError(t, verifyClientCN([][]*x509.Certificate{{leaf}}, []string{"ops", "daq-ui"}))
	assert.Error(t, verifyClientCN([][]*x509.Certificate{{leaf}}, []string{"ops"}))
}
