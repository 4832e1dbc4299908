// Package whitelist implements the embed checker's URI admission check:
// should_process_uri strips truncation markers, normalizes the host, and
// decides whether a URI is exempt (whitelisted) or malformed before any
// counter or redirect-follower work is done on it.
package whitelist

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ellipsis is the three-byte UTF-8 horizontal ellipsis (U+2026) some
// ingestion sources append to mark a truncated URI.
const ellipsis = "…"

// Admission holds the configured host prefix to strip and the set of
// whitelisted hosts.
type Admission struct {
	hostPrefix string
	hosts      map[string]struct{}
}

// New builds an Admission checker from the uri_host_prefix and
// whitelist_uris configuration options.
func New(hostPrefix string, whitelistHosts []string) *Admission {
	hosts := make(map[string]struct{}, len(whitelistHosts))
	for _, h := range whitelistHosts {
		hosts[normalizeHost(hostPrefix, h)] = struct{}{}
	}
	return &Admission{hostPrefix: hostPrefix, hosts: hosts}
}

// ShouldProcess reports whether rawURI should be handed to a counter or the
// Redirect Follower. It returns the normalized host, whether processing
// should continue, and a non-nil error when the URI is malformed — the
// caller logs, counts, and drops malformed URIs.
func (a *Admission) ShouldProcess(rawURI string) (host string, process bool, err error) {
	trimmed := strings.TrimSuffix(rawURI, ellipsis)

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", false, fmt.Errorf("whitelist: malformed URI %q: %w", rawURI, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("whitelist: URI %q has no host", rawURI)
	}

	host = normalizeHost(a.hostPrefix, u.Host)
	if _, whitelisted := a.hosts[host]; whitelisted {
		return host, false, nil
	}
	return host, true, nil
}

// normalizeHost strips the configured prefix and lowercases/IDN-normalizes
// the host so punycode and unicode forms of the same domain compare equal.
func normalizeHost(prefix, host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), prefix)
	if ascii, err := idna.ToASCII(host); err == nil {
		return ascii
	}
	return host
}
