package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"slices"
	"time"
)

const (
	caLifetime    = 10 * 365 * 24 * time.Hour
	agentLifetime = 397 * 24 * time.Hour
	// renewBefore reissues the agent certificate this long before expiry.
	renewBefore = 30 * 24 * time.Hour
	clockSkew   = time.Hour
)

// certAuthority is the agent's private CA. Consoles pin ca.crt once;
// the agent certificate under it can be reissued without re-pinning.
type certAuthority struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// ensureCerts makes sure paths hold a CA and a current agent certificate.
// An existing CA is reused; the agent certificate is reissued when it is
// missing, close to expiry or no longer signed by that CA.
func ensureCerts(paths *TLSConfig, now time.Time) error {
	ca, err := loadCA(paths)
	if errors.Is(err, os.ErrNotExist) {
		ca, err = createCA(paths, now)
	}
	if err != nil {
		return fmt.Errorf("certificate authority: %w", err)
	}

	if agentCertValid(paths.CertPath, ca, now) && fileExists(paths.KeyPath) {
		return nil
	}
	return issueAgentCert(paths, ca, now)
}

func loadCA(paths *TLSConfig) (*certAuthority, error) {
	der, err := readPEM(paths.CACertPath, "CERTIFICATE")
	if err != nil {
		return nil, err
	}
	keyDER, err := readPEM(paths.CAKeyPath, "EC PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		return nil, err
	}
	return &certAuthority{cert: cert, key: key}, nil
}

func createCA(paths *TLSConfig, now time.Time) (*certAuthority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          newSerial(),
		Subject:               pkix.Name{Organization: []string{"mcc"}, CommonName: "mcc agent CA"},
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(caLifetime),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := writePEM(paths.CAKeyPath, "EC PRIVATE KEY", keyDER, 0600); err != nil {
		return nil, err
	}
	if err := writePEM(paths.CACertPath, "CERTIFICATE", der, 0644); err != nil {
		return nil, err
	}
	return &certAuthority{cert: cert, key: key}, nil
}

// agentCertValid reports whether the certificate at path chains to ca
// and stays valid for longer than renewBefore.
func agentCertValid(path string, ca *certAuthority, now time.Time) bool {
	der, err := readPEM(path, "CERTIFICATE")
	if err != nil {
		return false
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return false
	}
	if now.Add(renewBefore).After(cert.NotAfter) {
		return false
	}
	return cert.CheckSignatureFrom(ca.cert) == nil
}

func issueAgentCert(paths *TLSConfig, ca *certAuthority, now time.Time) error {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return err
	}
	hostname, _ := os.Hostname()
	dnsNames, ips := agentSANs(hostname)
	cn := hostname
	if cn == "" {
		cn = "mcc agent"
	}
	notAfter := now.Add(agentLifetime)
	if notAfter.After(ca.cert.NotAfter) {
		notAfter = ca.cert.NotAfter
	}
	tmpl := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject:      pkix.Name{Organization: []string{"mcc"}, CommonName: cn},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
		NotBefore:    now.Add(-clockSkew),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	if err := writePEM(paths.KeyPath, "EC PRIVATE KEY", keyDER, 0600); err != nil {
		return err
	}
	return writePEM(paths.CertPath, "CERTIFICATE", der, 0644)
}

// agentSANs lists the names a console may dial the agent by: localhost,
// the hostname and every address of an interface that is up.
func agentSANs(hostname string) ([]string, []net.IP) {
	names := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		names = append(names, hostname)
	}
	ips := []net.IP{net.IPv4(127, 0, 0, 1).To4(), net.IPv6loopback}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return names, ips
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip := ipnet.IP
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
		if !slices.ContainsFunc(ips, ip.Equal) {
			ips = append(ips, ip)
		}
	}
	return names, ips
}

func readPEM(path, blockType string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("%s: no %s block", path, blockType)
	}
	return block.Bytes, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), perm)
}

func newSerial() *big.Int {
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	return serial
}
