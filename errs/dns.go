package errs

import "net"

// UnwrapDNSErr extracts a loggable reason from a *net.DNSError, if err is
// one. DNS server addresses and query names are excluded since they rarely
// help and often just add noise to logs.
func UnwrapDNSErr(err error) (reason string, misc map[string]interface{}) {
	dnsErr, ok := err.(*net.DNSError)
	if !ok {
		return "", map[string]interface{}{}
	}
	return dnsErr.Err, map[string]interface{}{}
}
