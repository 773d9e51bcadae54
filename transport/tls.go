package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/juju/errors"
)

// newHTTPClient builds the HTTPS client used for storage nodes and rooms.
func newHTTPClient(cfg Config) (*http.Client, error) {
	tc := &tls.Config{
		MinVersion:         cfg.TLS.MinVersion,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // storage nodes use self-signed certificates
		CurvePreferences:   []tls.CurveID{tls.X25519, tls.CurveP256},
	}
	if cfg.TLS.CAFile != "" {
		pem, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, errors.Annotatef(err, "reading CA bundle")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.NotValidf("CA bundle %q", cfg.TLS.CAFile)
		}
		tc.RootCAs = pool
	}

	d := &net.Dialer{
		Timeout:   cfg.RequestTimeout,
		KeepAlive: 45 * time.Second,
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		TLSClientConfig:       tc,
		TLSHandshakeTimeout:   cfg.RequestTimeout,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: cfg.RequestTimeout}, nil
}
