package usage

import (
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultHostnameCacheSize = 1024

// HostnameResolver memoises ResolveHostname in a bounded LRU cache.
type HostnameResolver struct {
	cache *lru.Cache[string, string]
}

// NewHostnameResolver creates a resolver holding at most size entries.
func NewHostnameResolver(size int) (*HostnameResolver, error) {
	if size <= 0 {
		size = DefaultHostnameCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create hostname cache: %w", err)
	}
	return &HostnameResolver{cache: cache}, nil
}

// Resolve returns the hostname for raw, using the cache when possible.
// Failures are not cached.
func (r *HostnameResolver) Resolve(raw string) (string, error) {
	if h, ok := r.cache.Get(raw); ok {
		return h, nil
	}
	h, err := ResolveHostname(raw)
	if err != nil {
		return "", err
	}
	r.cache.Add(raw, h)
	return h, nil
}

// ResolveHostname extracts a lowercase hostname from a URL or a bare
// hostname. Only http and https URLs are trackable.
func ResolveHostname(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty input", ErrMalformedHostname)
	}

	if !strings.Contains(raw, "://") {
		// about:blank, mailto:a@b.com and friends
		if strings.Contains(raw, "@") ||
			(strings.Contains(raw, ":") && !strings.Contains(raw, ".") && !strings.HasPrefix(raw, "localhost")) {
			return "", fmt.Errorf("%w: %q", ErrMalformedHostname, raw)
		}
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedHostname, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedHostname, u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || strings.ContainsAny(host, " \t/\\@") {
		return "", fmt.Errorf("%w: %q", ErrMalformedHostname, raw)
	}
	return host, nil
}
