// Package tlsutil builds client TLS configurations for outbound bridge
// connections: the NATS server and https webhooks.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/natsbridge/errors"
)

// ClientConfig describes a client TLS setup. CAFiles are trusted in
// addition to the system pool. CertFile and KeyFile enable mutual TLS and
// must be set together.
type ClientConfig struct {
	CAFiles    []string `json:"ca_files,omitempty"    yaml:"ca_files,omitempty"`
	CertFile   string   `json:"cert_file,omitempty"   yaml:"cert_file,omitempty"`
	KeyFile    string   `json:"key_file,omitempty"    yaml:"key_file,omitempty"`
	MinVersion string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	ServerName string   `json:"server_name,omitempty" yaml:"server_name,omitempty"`
}

// Enabled reports whether any TLS setting is present
func (c ClientConfig) Enabled() bool {
	return len(c.CAFiles) > 0 || c.CertFile != "" || c.KeyFile != "" ||
		c.MinVersion != "" || c.ServerName != ""
}

// Validate checks settings that can be checked without touching the filesystem
func (c ClientConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	if c.MinVersion != "" && c.MinVersion != "1.2" && c.MinVersion != "1.3" {
		return fmt.Errorf("min_version %q must be 1.2 or 1.3", c.MinVersion)
	}
	return nil
}

// LoadClientConfig creates a tls.Config from cfg. The system CA bundle is
// always trusted first; CAFiles add to it.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"tlsutil", "LoadClientConfig", "check TLS settings")
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
		ServerName: cfg.ServerName,
	}

	if len(cfg.CAFiles) > 0 {
		rootCAs, err := x509.SystemCertPool()
		if err != nil {
			rootCAs = x509.NewCertPool()
		}
		for _, caFile := range cfg.CAFiles {
			caPEM, err := os.ReadFile(caFile)
			if err != nil {
				return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", fmt.Sprintf("read CA file %s", caFile))
			}
			if !rootCAs.AppendCertsFromPEM(caPEM) {
				return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"),
					"tlsutil", "LoadClientConfig", fmt.Sprintf("parse CA file %s", caFile))
			}
		}
		tlsConfig.RootCAs = rootCAs
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// parseTLSVersion converts a version string to its crypto/tls constant.
// Empty or unknown values mean TLS 1.2.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
