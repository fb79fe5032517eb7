package resolver

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/lavabitllc/dimeresolve/dnsutil"
	"github.com/lavabitllc/dimeresolve/resolver/cache"
	"github.com/lavabitllc/dimeresolve/resolver/dmtp"
	"github.com/lavabitllc/dimeresolve/resolver/dnssec"
	"github.com/lavabitllc/dimeresolve/resolver/mrec"
	"github.com/lavabitllc/dimeresolve/resolver/signetcrypto"
)

func TestSplitName(t *testing.T) {
	if user, domain, isUser := splitName("alice@darkmail.example"); !isUser || user != "alice" || domain != "darkmail.example" {
		t.Fatalf("splitName(user) = (%q, %q, %v)", user, domain, isUser)
	}
	if _, domain, isUser := splitName("darkmail.example"); isUser || domain != "darkmail.example" {
		t.Fatalf("splitName(org) = (%q, %v)", domain, isUser)
	}
}

func TestCachedSignetSerializeRoundTrip(t *testing.T) {
	orig := &cachedSignet{Name: "alice@darkmail.example", Blob: "cGF5bG9hZA=="}
	data, err := orig.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := deserializeCachedSignet(data)
	if err != nil {
		t.Fatalf("deserializeCachedSignet: %v", err)
	}
	gotSignet := got.(*cachedSignet)
	if gotSignet.Name != orig.Name || gotSignet.Blob != orig.Blob {
		t.Fatalf("round trip mismatch: got %+v, want %+v", gotSignet, orig)
	}
}

// selfSignedServerCertFull builds a minimal self-signed TLS server
// certificate, used only to give a real crypto/tls handshake something to
// present; its own signing key is unrelated to the DIME POK binding under
// test (that binding is the separate Ed25519-over-SHA512(cert) signature).
func selfSignedServerCertFull(t *testing.T, host string) (tls.Certificate, *x509.Certificate) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{host},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, cert
}

// fakeDMTPServer drives one side of an in-memory TLS-wrapped connection,
// handling exactly the verb sequence GetSignet issues for an organizational
// signet lookup (EHLO, SGNT, QUIT).
type fakeDMTPServer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newFakeDMTPServer(conn net.Conn) *fakeDMTPServer {
	return &fakeDMTPServer{conn: conn, reader: bufio.NewReader(conn)}
}

func (f *fakeDMTPServer) send(s string) { f.conn.Write([]byte(s)) }

func (f *fakeDMTPServer) readCommand() string {
	line, _ := f.reader.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

type staticMXResolver struct{}

var _ dmtp.Resolver = staticMXResolver{}

func (staticMXResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	return nil, nil
}

func TestGetSignetOrgSignetEndToEnd(t *testing.T) {
	const domain = "darkmail.example"
	const host = "mail.darkmail.example"

	pokPub, pokPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	serverTLSCert, leaf := selfSignedServerCertFull(t, host)
	digest := sha512.Sum512(leaf.Raw)
	tlsSig := ed25519.Sign(pokPriv, digest[:])

	var pok [32]byte
	copy(pok[:], pokPub)
	var sig [64]byte
	copy(sig[:], tlsSig)

	rec := &mrec.Record{
		POK:           [][32]byte{pok},
		TLSSignatures: [][64]byte{sig},
		DeliveryHosts: []string{host},
		DNSSECOutcome: dnssec.StateValidated,
	}

	c := cache.New()
	canon, _ := dnsutil.ForLookup(domain)
	recordID := cache.ID(sha256.Sum256([]byte("dx:" + canon)))
	c.Store(cache.KindDIMERecord).Add(recordID, 0, 0, rec, false, false)

	validator, err := dnssec.NewValidator(c, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	r, err := New(c, validator, staticMXResolver{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	r.Transport.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientConn, nil
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	r.Transport.TLSConfig = &tls.Config{RootCAs: pool}

	orgPayload := []byte("org signet payload")
	orgSig := ed25519.Sign(pokPriv, orgPayload)
	orgBlob := base64.StdEncoding.EncodeToString(append(append([]byte{}, orgPayload...), orgSig...))

	done := make(chan struct{})
	go func() {
		defer close(done)
		tlsServer := tls.Server(serverConn, &tls.Config{Certificates: []tls.Certificate{serverTLSCert}})
		fs := newFakeDMTPServer(tlsServer)
		fs.send("220 " + host + " DMTPv1 ready\r\n")
		if cmd := fs.readCommand(); !strings.HasPrefix(cmd, "EHLO") {
			t.Errorf("expected EHLO, got %q", cmd)
		}
		fs.send("250-" + host + "\r\n250 OK\r\n")
		if cmd := fs.readCommand(); cmd != "SGNT "+domain {
			t.Errorf("expected SGNT %s, got %q", domain, cmd)
		}
		fs.send("250 OK " + orgBlob + "\r\n")
		if cmd := fs.readCommand(); !strings.HasPrefix(cmd, "QUIT") {
			t.Errorf("expected QUIT, got %q", cmd)
		}
		fs.send("221 bye\r\n")
	}()

	signet, err := r.GetSignet(context.Background(), domain, "", false)
	if err != nil {
		t.Fatalf("GetSignet: %v", err)
	}
	if string(signet.Payload) != string(orgPayload) {
		t.Fatalf("signet payload = %q, want %q", signet.Payload, orgPayload)
	}
	<-done

	cached := c.Store(cache.KindSignet).Find(signetCacheID(domain))
	if cached == nil {
		t.Fatalf("expected signet to be cached under domain name")
	}
	gotSignet, err := signetcrypto.DeserializeB64(cached.Payload.(*cachedSignet).Blob)
	if err != nil {
		t.Fatalf("DeserializeB64: %v", err)
	}
	if string(gotSignet.Payload) != string(orgPayload) {
		t.Fatalf("cached payload mismatch")
	}
}
