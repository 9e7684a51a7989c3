// Package security holds the TLS settings of the monitoring endpoint.
package security

import (
	"fmt"
	"slices"
)

// ServerTLS configures TLS, and optionally client certificate checks, for
// the metrics and health server.
type ServerTLS struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"

	ClientCAFiles     []string `json:"client_ca_files,omitempty" yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty" yaml:"allowed_client_cns,omitempty"`
}

// MutualTLS reports whether client certificates are checked.
func (c ServerTLS) MutualTLS() bool {
	return len(c.ClientCAFiles) > 0
}

// Validate checks that an enabled configuration names its key pair.
func (c ServerTLS) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return fmt.Errorf("tls enabled without cert_file and key_file")
	}
	if c.MinVersion != "" && !slices.Contains([]string{"1.2", "1.3"}, c.MinVersion) {
		return fmt.Errorf("tls min_version %q must be 1.2 or 1.3", c.MinVersion)
	}
	if (c.RequireClientCert || len(c.AllowedClientCNs) > 0) && !c.MutualTLS() {
		return fmt.Errorf("client certificate checks need client_ca_files")
	}
	return nil
}
