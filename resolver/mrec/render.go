package mrec

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Render serializes r back into `key=value` TXT payload form, the inverse
// of Parse — `Parse(Render(r))` must reproduce r for any record Parse
// itself would accept.
func (r *Record) Render() string {
	var parts []string
	parts = append(parts, "ver="+strconv.Itoa(r.Version))
	for _, pok := range r.POK {
		parts = append(parts, "pok="+base64.RawStdEncoding.EncodeToString(pok[:]))
	}
	for _, sig := range r.TLSSignatures {
		parts = append(parts, "tls="+base64.RawStdEncoding.EncodeToString(sig[:]))
	}
	parts = append(parts, "pol="+r.Policy.String())
	if r.Syndicates != "" {
		parts = append(parts, "syn="+r.Syndicates)
	}
	for _, host := range r.DeliveryHosts {
		parts = append(parts, "dx="+host)
	}
	if r.ExpiryDays != 0 {
		parts = append(parts, "exp="+strconv.Itoa(r.ExpiryDays))
	}
	parts = append(parts, "sub="+r.Subdomain.String())
	return strings.Join(parts, " ")
}
