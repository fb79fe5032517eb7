// Package mrec parses DIME management records (the `_dx.<domain>` TXT
// record) and binds them to the object cache (component C).
package mrec

import "github.com/lavabitllc/dimeresolve/resolver/dnssec"

// Policy is the message-handling policy a DIME record declares.
type Policy int

const (
	PolicyExperimental Policy = iota
	PolicyMixed
	PolicyStrict
)

func (p Policy) String() string {
	switch p {
	case PolicyMixed:
		return "mixed"
	case PolicyStrict:
		return "strict"
	default:
		return "experimental"
	}
}

func parsePolicy(s string) (Policy, bool) {
	switch s {
	case "experimental":
		return PolicyExperimental, true
	case "mixed":
		return PolicyMixed, true
	case "strict":
		return PolicyStrict, true
	default:
		return 0, false
	}
}

// Subdomain is the subdomain-delegation policy a DIME record declares.
type Subdomain int

const (
	SubdomainStrict Subdomain = iota
	SubdomainRelaxed
	SubdomainExplicit
)

func (s Subdomain) String() string {
	switch s {
	case SubdomainRelaxed:
		return "relaxed"
	case SubdomainExplicit:
		return "explicit"
	default:
		return "strict"
	}
}

func parseSubdomain(s string) (Subdomain, bool) {
	switch s {
	case "strict":
		return SubdomainStrict, true
	case "relaxed":
		return SubdomainRelaxed, true
	case "explicit":
		return SubdomainExplicit, true
	default:
		return 0, false
	}
}

// Record is a parsed DIME management record (spec §3 "DIME management
// record").
type Record struct {
	Version       int
	POK           [][32]byte
	TLSSignatures [][64]byte
	Policy        Policy
	Syndicates    string
	DeliveryHosts []string
	ExpiryDays    int
	Subdomain     Subdomain
	DNSSECOutcome dnssec.ValidationState
}
