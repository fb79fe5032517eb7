// Package resolver implements get_signet (spec component F): the
// top-level orchestration that ties the object cache, the DNSSEC
// validator, the DIME record parser, the TLS binding verifier and the
// DMTP client together into the one call a DIME-aware mail client
// actually makes.
package resolver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/lavabitllc/dimeresolve/log"
	"github.com/lavabitllc/dimeresolve/resolver/cache"
	"github.com/lavabitllc/dimeresolve/resolver/dmtp"
	"github.com/lavabitllc/dimeresolve/resolver/dnssec"
	"github.com/lavabitllc/dimeresolve/resolver/mrec"
	"github.com/lavabitllc/dimeresolve/resolver/signetcrypto"
	"github.com/lavabitllc/dimeresolve/resolver/tlsbind"
)

// Resolver wires together one instance of each component (A-E) behind
// the single get_signet entry point (component F).
type Resolver struct {
	Cache       *cache.Cache
	Validator   *dnssec.Validator
	Records     *mrec.Resolver
	Transport   *dmtp.Transport
	TLSVerifier *tlsbind.Verifier
	Signets     signetcrypto.SignetVerifier
	Logger      log.Logger
}

// New builds a Resolver from its already-constructed collaborators. The
// cache is shared by Records and TLSVerifier (and by this package's own
// Signet store), so it is taken once here rather than rebuilt per
// component.
func New(c *cache.Cache, validator *dnssec.Validator, mxResolver dmtp.Resolver) (*Resolver, error) {
	verifier, err := tlsbind.NewVerifier(c)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	return &Resolver{
		Cache:       c,
		Validator:   validator,
		Records:     mrec.NewResolver(validator, c),
		Transport:   dmtp.NewTransport(mxResolver),
		TLSVerifier: verifier,
		Signets:     signetcrypto.ReferenceVerifier{},
		Logger:      log.Logger{Name: "resolver"},
	}, nil
}

func signetCacheID(name string) cache.ID {
	return cache.ID(sha256.Sum256([]byte("signet:" + name)))
}

// splitName implements spec §4.F step 1: name containing "@" identifies
// a user signet (local part plus domain); otherwise name is itself the
// domain of an organizational signet lookup.
func splitName(name string) (user, domain string, isUser bool) {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i], name[i+1:], true
	}
	return "", name, false
}

// GetSignet implements get_signet(name, fingerprint, use_cache). On
// success the returned Signet has validated to signetcrypto.StrengthFull;
// anything less is an error, per spec §6's "the resolver requires full".
func (r *Resolver) GetSignet(ctx context.Context, name, fingerprint string, useCache bool) (*signetcrypto.Signet, error) {
	_, domain, isUser := splitName(name)
	if domain == "" {
		return nil, fmt.Errorf("resolver: %q has no domain", name)
	}

	id := signetCacheID(name)
	if useCache {
		if entry := r.Cache.Store(cache.KindSignet).Find(id); entry != nil {
			cached := entry.Payload.(*cachedSignet)
			return signetcrypto.DeserializeB64(cached.Blob)
		}
	}

	rec, err := r.Records.Get(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("resolver: fetching DIME record for %s: %w", domain, err)
	}

	client, err := r.Transport.Connect(ctx, domain, rec)
	if err != nil {
		return nil, fmt.Errorf("resolver: connecting to %s: %w", domain, err)
	}
	defer client.Quit()

	state, ok := client.ConnectionState()
	if !ok {
		return nil, fmt.Errorf("resolver: DMTP session to %s is not running over TLS", domain)
	}
	if reason := r.TLSVerifier.Verify(ctx, state, client.Host(), rec); !reason.Pass() {
		return nil, fmt.Errorf("resolver: TLS binding check failed for %s: %s", domain, reason)
	}

	if _, err := client.Ehlo(domain); err != nil {
		return nil, fmt.Errorf("resolver: EHLO to %s: %w", domain, err)
	}

	signet, err := r.resolveSignet(client, name, domain, fingerprint, isUser, rec)
	if err != nil {
		return nil, err
	}

	r.Cache.Store(cache.KindSignet).Add(id, 0, 0, &cachedSignet{Name: name, Blob: signet.EncodeB64()}, true, false)
	return signet, nil
}

// fetchOrgSignet issues SGNT <domain> and validates the result against
// the DIME record's POK list (spec §4.F steps 4/5's shared prefix).
func (r *Resolver) fetchOrgSignet(client *dmtp.Client, domain, fingerprint string, rec *mrec.Record) (*signetcrypto.Signet, error) {
	blob, err := client.Sgnt(domain, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("resolver: SGNT %s: %w", domain, err)
	}
	orgSignet, err := signetcrypto.DeserializeB64(blob)
	if err != nil {
		return nil, fmt.Errorf("resolver: decoding org signet for %s: %w", domain, err)
	}
	if strength := r.Signets.ValidateAll(orgSignet, nil, nil, rec.POK); strength != signetcrypto.StrengthFull {
		return nil, fmt.Errorf("resolver: org signet for %s validated at strength %s, want full", domain, strength)
	}
	return orgSignet, nil
}

func (r *Resolver) resolveSignet(client *dmtp.Client, name, domain, fingerprint string, isUser bool, rec *mrec.Record) (*signetcrypto.Signet, error) {
	if !isUser {
		return r.fetchOrgSignet(client, domain, fingerprint, rec)
	}

	orgSignet, err := r.fetchOrgSignet(client, domain, "", rec)
	if err != nil {
		return nil, err
	}

	userBlob, err := client.Sgnt(name, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("resolver: SGNT %s: %w", name, err)
	}
	userSignet, err := signetcrypto.DeserializeB64(userBlob)
	if err != nil {
		return nil, fmt.Errorf("resolver: decoding user signet for %s: %w", name, err)
	}
	if strength := r.Signets.ValidateAll(userSignet, nil, orgSignet, nil); strength != signetcrypto.StrengthFull {
		return nil, fmt.Errorf("resolver: user signet %s validated at strength %s, want full", name, strength)
	}
	return userSignet, nil
}
