package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	temporalclient "go.temporal.io/sdk/client"
)

// ClientOptions builds the options used to dial Temporal for the backfill
// workflow. mTLS is enabled only when both a client cert and key are set.
func (t TemporalConfig) ClientOptions() (temporalclient.Options, error) {
	opts := temporalclient.Options{
		HostPort:  t.Address,
		Namespace: t.Namespace,
	}

	tlsConfig, err := t.tlsConfig()
	if err != nil {
		return temporalclient.Options{}, err
	}
	if tlsConfig != nil {
		opts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
	}
	return opts, nil
}

func (t TemporalConfig) tlsConfig() (*tls.Config, error) {
	if t.TLSCert == "" && t.TLSKey == "" {
		return nil, nil
	}
	if t.TLSCert == "" || t.TLSKey == "" {
		return nil, fmt.Errorf("temporal TLS needs both TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY")
	}

	cert, err := tls.LoadX509KeyPair(t.TLSCert, t.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   t.TLSServerName,
	}

	if t.TLSCACert != "" {
		caPEM, err := os.ReadFile(t.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("read temporal CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parse temporal CA cert %s", t.TLSCACert)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
