package snapshot

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseURL validates rawURL as an absolute http(s) URL and normalizes it.
func ParseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return NormalizeURL(u), nil
}

// NormalizeURL lowercases the host, drops default ports and the fragment and
// removes campaign tracking query parameters. The input is not modified.
func NormalizeURL(in *url.URL) *url.URL {
	u := *in
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = stripTrackingParams(u.RawQuery)
	}
	return &u
}

// stripTrackingParams keeps the original parameter order and encoding of
// every parameter that survives.
func stripTrackingParams(rawQuery string) string {
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		name := part
		if i := strings.IndexByte(part, '='); i >= 0 {
			name = part[:i]
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if isTrackingParam(name) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func isTrackingParam(name string) bool {
	return strings.HasPrefix(name, "utm") ||
		strings.HasPrefix(name, "amp;utm") ||
		strings.HasPrefix(name, "amp;amp;utm") ||
		name == "smid" ||
		name == "via"
}

// CacheKey returns the key used for snapshot caching.
func CacheKey(u *url.URL) string {
	return u.String()
}
