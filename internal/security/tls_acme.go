package security

import (
	"crypto/tls"
	"os"
	"path/filepath"

	"golang.org/x/crypto/acme/autocert"
)

// NewACMEManager creates a Let's Encrypt autocert manager for the given domains.
// Certificates are obtained and renewed on demand and cached in
// dataDir/acme-certs. The returned config answers TLS-ALPN-01 challenges
// itself, so the command listener must be reachable on port 443:
//
//	manager, tlsCfg := security.NewACMEManager(dataDir, "host1.example.com")
//	ln, _ := tls.Listen("tcp", ":443", tlsCfg)
func NewACMEManager(dataDir string, domains ...string) (*autocert.Manager, *tls.Config) {
	cacheDir := filepath.Join(dataDir, "acme-certs")
	_ = os.MkdirAll(cacheDir, 0700)

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	tlsCfg := manager.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS13

	return manager, tlsCfg
}
