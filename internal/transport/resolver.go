package transport

import (
	"context"
	"net"
	"sync"

	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
)

// DNSResolver resolves host names to addresses, caching results for the
// life of the process. Owned by the messenger.
type DNSResolver struct {
	mu    sync.RWMutex
	cache map[string][]string
}

func NewDNSResolver() *DNSResolver {
	return &DNSResolver{cache: make(map[string][]string)}
}

// Resolve returns the addresses behind a HostPort, preserving lookup
// order. Literal IPs pass through untouched.
func (r *DNSResolver) Resolve(ctx context.Context, hp quorum.HostPort) ([]string, error) {
	if ip := net.ParseIP(hp.Host); ip != nil {
		return []string{hp.Host}, nil
	}

	r.mu.RLock()
	addrs, ok := r.cache[hp.Host]
	r.mu.RUnlock()
	if ok {
		return addrs, nil
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, hp.Host)
	if err != nil {
		return nil, status.Wrap(status.CodeNetworkError, err, "resolving %s", hp.Host)
	}
	r.mu.Lock()
	r.cache[hp.Host] = addrs
	r.mu.Unlock()
	return addrs, nil
}
