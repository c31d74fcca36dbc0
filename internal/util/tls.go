package util

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/leonunix/floe/internal/config"
)

// NewTransport builds the HTTP transport for the engine connection with TLS
// settings from the given config. Without TLS overrides it returns a clone
// of http.DefaultTransport so the handle owns its own connection pool.
func NewTransport(tc config.TLSConfig) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if !tc.SkipVerify && tc.CACert == "" {
		return tr, nil
	}

	tlsConfig := &tls.Config{}

	if tc.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if tc.CACert != "" {
		caCert, err := os.ReadFile(tc.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", tc.CACert, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", tc.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	tr.TLSClientConfig = tlsConfig
	return tr, nil
}
