package dmtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/lavabitllc/dimeresolve/log"
	"github.com/lavabitllc/dimeresolve/resolver/mrec"
)

const (
	nativePort     = "26"
	smtpPort       = "25"
	submissionPort = "587"
)

// Resolver is the one DNS lookup transport selection needs — narrowed
// from foxcpp-maddy/framework/dns.Resolver's broader interface to just
// the method this client actually calls.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Dialer abstracts net.Dialer.DialContext so tests can substitute an
// in-memory pipe instead of a real socket.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Transport establishes DMTP sessions per the spec's transport-selection
// policy, mirroring the dialer/timeout/TLS-config shape of
// foxcpp-maddy/internal/smtpconn.C.
type Transport struct {
	Dial      Dialer
	Resolver  Resolver
	TLSConfig *tls.Config
	Logger    log.Logger
}

// NewTransport builds a Transport with a real net.Dialer and a blank
// tls.Config (per-attempt ServerName is set by Connect).
func NewTransport(resolver Resolver) *Transport {
	return &Transport{
		Dial:      (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
		Resolver:  resolver,
		TLSConfig: &tls.Config{},
		Logger:    log.Logger{Name: "dmtp"},
	}
}

// Connect implements spec §4.E's transport selection: the DIME record's
// delivery hosts take priority (native TLS only); otherwise up to 3 MX
// records, each tried native-TLS then dual-mode (port 25, falling back
// to 587); otherwise the bare domain on native TLS.
func (t *Transport) Connect(ctx context.Context, domain string, rec *mrec.Record) (*Client, error) {
	if rec != nil && len(rec.DeliveryHosts) > 0 {
		var lastErr error
		for _, host := range rec.DeliveryHosts {
			cl, err := t.dialNative(ctx, host)
			if err == nil {
				return cl, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("dmtp: all delivery hosts failed for %s: %w", domain, lastErr)
	}

	if mxs, err := t.Resolver.LookupMX(ctx, domain); err == nil && len(mxs) > 0 {
		if len(mxs) > 3 {
			mxs = mxs[:3]
		}
		var lastErr error
		for _, mx := range mxs {
			host := strings.TrimSuffix(mx.Host, ".")
			if !commonDomainCheck(domain, host) {
				t.Logger.Debugf("MX host %s does not share a registrable domain with %s", host, domain)
			}
			if cl, err := t.dialNative(ctx, host); err == nil {
				return cl, nil
			} else {
				lastErr = err
			}
			if cl, err := t.dialDual(ctx, host, smtpPort); err == nil {
				return cl, nil
			} else {
				lastErr = err
			}
			if cl, err := t.dialDual(ctx, host, submissionPort); err == nil {
				return cl, nil
			} else {
				lastErr = err
			}
		}
		return nil, fmt.Errorf("dmtp: all MX hosts failed for %s: %w", domain, lastErr)
	}

	return t.dialNative(ctx, domain)
}

// commonDomainCheck reports whether domain and mx share the same
// registrable (public-suffix-plus-one) domain — a weak trust signal the
// DMTP transport logs but never relies on for acceptance; the real trust
// boundary is the DIME TLS binding checked once the session is
// established. Mirrors foxcpp-maddy/internal/target/remote's MX
// common-domain authentication rule.
func commonDomainCheck(domain, mx string) bool {
	domainPart, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return false
	}
	mxPart, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(mx, "."))
	if err != nil {
		return false
	}
	return domainPart == mxPart
}

func (t *Transport) dialNative(ctx context.Context, host string) (*Client, error) {
	raw, err := t.Dial(ctx, "tcp", net.JoinHostPort(host, nativePort))
	if err != nil {
		return nil, err
	}

	cfg := t.TLSConfig.Clone()
	cfg.ServerName = host
	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}

	cl := newClient(tlsConn, host, ModeNative, t.Logger)
	if err := cl.readBanner(); err != nil {
		tlsConn.Close()
		return nil, err
	}
	return cl, nil
}

func (t *Transport) dialDual(ctx context.Context, host, port string) (*Client, error) {
	raw, err := t.Dial(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}

	cl := newClient(raw, host, ModeDual, t.Logger)
	if err := cl.readBanner(); err != nil {
		raw.Close()
		return nil, err
	}

	cfg := t.TLSConfig.Clone()
	cfg.ServerName = host
	if err := cl.StartTLS(ctx, cfg); err != nil {
		raw.Close()
		return nil, err
	}
	return cl, nil
}
