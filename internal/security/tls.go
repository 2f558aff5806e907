package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// TLSConfig holds the paths to the CA and agent certificate files.
type TLSConfig struct {
	CACertPath string
	CAKeyPath  string
	CertPath   string
	KeyPath    string
}

// TLSMode describes how the agent wraps its listeners.
type TLSMode int

const (
	// TLSModeOff leaves the raw socket unwrapped. Messages are still
	// sealed by the envelope.
	TLSModeOff TLSMode = iota
	// TLSModeSelfSigned uses an auto-generated CA and agent certificate.
	TLSModeSelfSigned
	// TLSModeACME uses Let's Encrypt via TLS-ALPN-01 challenges.
	TLSModeACME
	// TLSModeCustom uses user-provided certificate and key files.
	TLSModeCustom
)

func (m TLSMode) String() string {
	switch m {
	case TLSModeOff:
		return "off"
	case TLSModeSelfSigned:
		return "self-signed"
	case TLSModeACME:
		return "acme"
	case TLSModeCustom:
		return "custom"
	default:
		return fmt.Sprintf("TLSMode(%d)", int(m))
	}
}

// ParseTLSMode maps a flag value onto a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch s {
	case "", "off":
		return TLSModeOff, nil
	case "self-signed":
		return TLSModeSelfSigned, nil
	case "acme":
		return TLSModeACME, nil
	case "custom":
		return TLSModeCustom, nil
	}
	return TLSModeOff, fmt.Errorf("unknown TLS mode %q", s)
}

// TLSOptions selects and parameterises a TLS mode.
type TLSOptions struct {
	Mode     TLSMode
	DataDir  string
	CertFile string   // custom mode
	KeyFile  string   // custom mode
	Domains  []string // ACME mode
}

// TLSResult holds the outcome of TLS setup.
type TLSResult struct {
	Config      *tls.Config       // nil when Mode is TLSModeOff
	Paths       *TLSConfig        // self-signed mode only
	ACMEManager *autocert.Manager // ACME mode only
	Mode        TLSMode
}

// SetupTLS prepares the server-side TLS configuration for opts.Mode.
func SetupTLS(opts TLSOptions) (*TLSResult, error) {
	switch opts.Mode {
	case TLSModeOff:
		return &TLSResult{Mode: TLSModeOff}, nil

	case TLSModeSelfSigned:
		cfg, paths, err := LoadOrGenerateTLS(opts.DataDir)
		if err != nil {
			return nil, err
		}
		return &TLSResult{Config: cfg, Paths: paths, Mode: opts.Mode}, nil

	case TLSModeCustom:
		if opts.CertFile == "" || opts.KeyFile == "" {
			return nil, fmt.Errorf("custom TLS requires certificate and key files")
		}
		cfg, err := LoadCustomTLS(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		return &TLSResult{Config: cfg, Mode: opts.Mode}, nil

	case TLSModeACME:
		if len(opts.Domains) == 0 {
			return nil, fmt.Errorf("ACME TLS requires at least one domain")
		}
		manager, cfg := NewACMEManager(opts.DataDir, opts.Domains...)
		return &TLSResult{Config: cfg, ACMEManager: manager, Mode: opts.Mode}, nil
	}
	return nil, fmt.Errorf("unsupported TLS mode %v", opts.Mode)
}

// LoadOrGenerateTLS loads existing self-signed TLS certificates from dataDir
// or generates new ones. Returns a *tls.Config configured for TLS 1.3.
func LoadOrGenerateTLS(dataDir string) (*tls.Config, *TLSConfig, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	paths := &TLSConfig{
		CACertPath: filepath.Join(dataDir, "ca.crt"),
		CAKeyPath:  filepath.Join(dataDir, "ca.key"),
		CertPath:   filepath.Join(dataDir, "agent.crt"),
		KeyPath:    filepath.Join(dataDir, "agent.key"),
	}

	if err := ensureCerts(paths, time.Now()); err != nil {
		return nil, nil, fmt.Errorf("generate TLS certs: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(paths.CertPath, paths.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load TLS keypair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, paths, nil
}

// LoadCustomTLS loads user-provided certificate and key files.
func LoadCustomTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load custom TLS keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig builds the console-side configuration. With caFile set
// the agent certificate must chain to that CA; insecure skips
// verification entirely and relies on the envelope signature instead.
func ClientTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS13}
	if insecure {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("load CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", caFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// ReadCACert returns the PEM-encoded CA certificate.
func ReadCACert(paths *TLSConfig) ([]byte, error) {
	return os.ReadFile(paths.CACertPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
