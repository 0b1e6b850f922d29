package middleware

import (
	"fmt"
	"net"
	"net/http"

	"github.com/aquamarinepk/vstore"
)

// CodeForbidden is the error code written when a client network is refused.
const CodeForbidden = "forbidden"

var privateNetworks = mustParseNetworks(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
)

// InternalOnly admits loopback and private network clients plus any extra
// networks. It guards the metrics and debug endpoints. It reads RemoteAddr,
// so it must run after RealIP when the server sits behind a proxy.
func InternalOnly(extra ...*net.IPNet) func(http.Handler) http.Handler {
	networks := append(append([]*net.IPNet(nil), privateNetworks...), extra...)
	return AllowFromNetworks(networks...)
}

// AllowFromNetworks refuses clients outside networks with 403.
func AllowFromNetworks(networks ...*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r.RemoteAddr)
			for _, n := range networks {
				if ip != nil && n.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}
			vstore.Error(w, http.StatusForbidden, CodeForbidden, "client network not allowed")
		})
	}
}

// ParseNetworks parses CIDR strings such as "10.1.0.0/16".
func ParseNetworks(cidrs ...string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("parse network %q: %w", c, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func mustParseNetworks(cidrs ...string) []*net.IPNet {
	out, err := ParseNetworks(cidrs...)
	if err != nil {
		panic(err)
	}
	return out
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}
