// Package classifier routes URLs to the video API path or the generic HTML
// path using configurable host patterns.
package classifier

import (
	"net/url"
	"sort"
)

// Kind is the extraction path for a URL.
type Kind int

const (
	// GenericHTML pages are fetched and their meta tags extracted.
	GenericHTML Kind = iota
	// VideoAPI URLs are resolved through a video hosting API.
	VideoAPI
)

func (k Kind) String() string {
	if k == VideoAPI {
		return "video"
	}
	return "html"
}

// Classification is the result of Classify.
type Classification struct {
	Kind     Kind
	Provider string
}

type provider struct {
	name     string
	patterns *hostPatterns
}

// Classifier maps hosts to video providers and flags ignored hosts.
type Classifier struct {
	providers []provider
	ignored   *hostPatterns
}

// New builds a Classifier from provider -> host patterns and a list of
// hosts that are never snapshotted. Providers are tried in name order.
func New(providers map[string][]string, ignoredHosts []string) *Classifier {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	c := &Classifier{ignored: newHostPatterns(ignoredHosts)}
	for _, name := range names {
		if patterns := newHostPatterns(providers[name]); patterns != nil {
			c.providers = append(c.providers, provider{name: name, patterns: patterns})
		}
	}
	return c
}

// Classify picks the extraction path for u.
func (c *Classifier) Classify(u *url.URL) Classification {
	host := u.Hostname()
	for _, p := range c.providers {
		if p.patterns.Matches(host) {
			return Classification{Kind: VideoAPI, Provider: p.name}
		}
	}
	return Classification{Kind: GenericHTML}
}

// Ignored reports whether host must not be snapshotted at all.
func (c *Classifier) Ignored(host string) bool {
	return c.ignored.Matches(host)
}
