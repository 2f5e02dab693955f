// Package geoip tags client addresses with an ISO country code for access
// logs.
package geoip

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

const maxCached = 4096

// Resolver looks up countries in a MaxMind GeoIP2/GeoLite2 database. A nil
// *Resolver is valid and resolves nothing.
type Resolver struct {
	reader *geoip2.Reader

	mu    sync.Mutex
	cache map[string]string
}

// Open loads the database at path. An empty path returns a nil resolver.
func Open(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return &Resolver{reader: reader, cache: make(map[string]string)}, nil
}

// Lookup returns the country code of ip, or "" when it is unknown, private
// or unparsable.
func (r *Resolver) Lookup(ip string) string {
	if r == nil || r.reader == nil {
		return ""
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || !Routable(parsed) {
		return ""
	}
	key := parsed.String()

	r.mu.Lock()
	code, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return code
	}

	if record, err := r.reader.Country(parsed); err == nil && record != nil {
		code = record.Country.IsoCode
	}

	r.mu.Lock()
	if len(r.cache) >= maxCached {
		// Coarse eviction; the working set of a single API node is small.
		clear(r.cache)
	}
	r.cache[key] = code
	r.mu.Unlock()
	return code
}

// Routable reports whether ip can appear in a public GeoIP database.
func Routable(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast())
}

func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
