package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
)

// UnknownClient buckets every request whose address cannot be determined.
const UnknownClient = "unknown"

// IPResolver derives the client address used as the rate-limit bucket.
//
// Forwarding headers are read in order: first hop of X-Forwarded-For, then
// CF-Connecting-IP, then X-Real-IP. When trusted proxies are configured, the
// headers are honoured only if the socket peer is one of them; otherwise the
// peer itself is the client.
type IPResolver struct {
	trusted        []netip.Prefix
	fallbackToPeer bool
}

// NewIPResolver builds a resolver. Entries in trusted may be single addresses
// or CIDR ranges; malformed entries are ignored.
func NewIPResolver(trusted []string, fallbackToPeer bool) *IPResolver {
	r := &IPResolver{fallbackToPeer: fallbackToPeer}
	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return r
}

// ClientIP returns the client address of req, or UnknownClient.
func (r *IPResolver) ClientIP(req *http.Request) string {
	peer := peerAddr(req.RemoteAddr)

	if len(r.trusted) > 0 && !r.isTrusted(peer) {
		if peer != "" {
			return peer
		}
		return UnknownClient
	}

	if xff := req.Header.Get(constants.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if ip := strings.TrimSpace(req.Header.Get(constants.HeaderCFConnectingIP)); ip != "" {
		return ip
	}

	if ip := strings.TrimSpace(req.Header.Get(constants.HeaderXRealIP)); ip != "" {
		return ip
	}

	if r.fallbackToPeer && peer != "" {
		return peer
	}
	return UnknownClient
}

// IsTrustedProxy reports whether ip belongs to a configured trusted proxy.
func (r *IPResolver) IsTrustedProxy(ip string) bool {
	return len(r.trusted) > 0 && r.isTrusted(ip)
}

func (r *IPResolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
