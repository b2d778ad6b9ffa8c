package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_AEADOnly(t *testing.T) {
	cfg := Config()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)

	insecure := tls.InsecureCipherSuites()
	for _, id := range cfg.CipherSuites {
		assert.False(t, slices.ContainsFunc(insecure, func(cs *tls.CipherSuite) bool { return cs.ID == id }),
			"insecure suite %s", tls.CipherSuiteName(id))
	}

	// 返回的切片互不共享
	cfg.CipherSuites[0] = 0
	assert.NotZero(t, Config().CipherSuites[0])
}

func TestHTTPClient_TLSVersions(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	modern := httptest.NewTLSServer(handler)
	t.Cleanup(modern.Close)

	legacy := httptest.NewUnstartedServer(handler)
	legacy.TLS = &tls.Config{MaxVersion: tls.VersionTLS11}
	legacy.StartTLS()
	t.Cleanup(legacy.Close)

	client := HTTPClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)

	roots := x509.NewCertPool()
	roots.AddCert(modern.Certificate())
	roots.AddCert(legacy.Certificate())
	client.Transport.(*http.Transport).TLSClientConfig.RootCAs = roots

	resp, err := client.Get(modern.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = client.Get(legacy.URL)
	assert.Error(t, err, "TLS 1.1 servers are rejected")
}
