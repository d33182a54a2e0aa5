package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// EndpointPolicy controls which outbound endpoints are acceptable.
type EndpointPolicy struct {
	// RequireHTTPS rejects plain http endpoints. Set in production, where
	// records carry user hashes and analysis fields.
	RequireHTTPS bool
	// AllowPrivate permits loopback and private addresses, for a local CRM mock.
	AllowPrivate bool
}

// ValidateEndpointURL checks that the CRM ingest endpoint is safe to post to.
// Unless the policy allows it, private, loopback, link-local and unspecified
// addresses are rejected, both as literals and after DNS resolution.
func ValidateEndpointURL(rawURL string, policy EndpointPolicy) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	switch u.Scheme {
	case "https":
	case "http":
		if policy.RequireHTTPS {
			return fmt.Errorf("URL scheme must be https")
		}
	default:
		return fmt.Errorf("URL scheme must be http or https")
	}

	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	if policy.AllowPrivate {
		return nil
	}

	host := u.Hostname()
	for _, b := range []string{"localhost", "metadata.google.internal"} {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, s := range ips {
		if ip := net.ParseIP(s); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %v", host, err)
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
