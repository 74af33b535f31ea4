// Package extract reads preview fields and robots meta directives from an
// HTML document head in a single streaming pass.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/fedineko/crabo/internal/metadirective"
)

// Fields are the preview values found in a document.
type Fields struct {
	Title           string
	Description     string
	ImageURL        string
	ImageType       string
	SiteName        string
	ApplicationName string
}

// Result is the outcome of one pass over a document.
type Result struct {
	Fields
	Directive metadirective.Action
}

// Blocked reports whether a robots meta directive forbids using the fields.
func (r Result) Blocked() bool {
	return r.Directive.Blocks()
}

// GuessedSocial marks pages that look like a social network profile or post.
const GuessedSocial = "guessed.social"

// Document parses body as the page at pageURL. Parsing stops at the end of
// <head> or the start of <body>; fields appearing later are not considered.
func Document(body []byte, pageURL *url.URL, agentToken string) (Result, error) {
	return Stream(bytes.NewReader(body), pageURL, agentToken)
}

// Stream is Document over a reader.
func Stream(r io.Reader, pageURL *url.URL, agentToken string) (Result, error) {
	scanner := metadirective.NewScanner(agentToken)
	props := make(map[string]string)
	var (
		title     strings.Builder
		inTitle   bool
		haveTitle bool
	)

	z := html.NewTokenizer(r)
loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				break loop
			}
			return Result{}, fmt.Errorf("tokenize html: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch atom.Lookup(name) {
			case atom.Meta:
				if hasAttr {
					observeMeta(z, scanner, props)
				}
			case atom.Title:
				if !haveTitle && tt == html.StartTagToken {
					inTitle = true
				}
			case atom.Body:
				break loop
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Title:
				if inTitle {
					inTitle = false
					haveTitle = true
				}
			case atom.Head:
				break loop
			}
		case html.TextToken:
			if inTitle {
				title.Write(z.Text())
			}
		}
	}
	if haveTitle || inTitle {
		props["title"] = title.String()
	}

	res := Result{Directive: scanner.Result()}
	if res.Blocked() {
		return res, nil
	}
	res.Fields = selectFields(props, pageURL)
	return res, nil
}

func observeMeta(z *html.Tokenizer, scanner *metadirective.Scanner, props map[string]string) {
	var property, name, content string
	haveContent := false
	for {
		key, val, more := z.TagAttr()
		switch strings.ToLower(string(key)) {
		case "property":
			property = string(val)
		case "name":
			name = string(val)
		case "content":
			content = string(val)
			haveContent = true
		}
		if !more {
			break
		}
	}
	if name != "" {
		scanner.Observe(name, content)
	}
	if !haveContent {
		return
	}
	for _, key := range []string{property, name} {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, seen := props[key]; !seen {
			props[key] = content
		}
	}
}

func selectFields(props map[string]string, pageURL *url.URL) Fields {
	f := Fields{
		Title:    Clean(first(props, "og:title", "twitter:title", "title")),
		SiteName: Clean(first(props, "og:site_name", "twitter:site", "application-name")),
	}
	if d := Clean(props["og:description"]); d != "" {
		f.Description = d
	} else {
		f.Description = longest(Clean(props["twitter:description"]), Clean(props["description"]))
	}
	image := first(props, "og:image", "og:image:url", "og:image:secure_url", "twitter:image", "twitter:image:src")
	if resolved, ok := ResolveURL(pageURL, image); ok {
		f.ImageURL = resolved
		f.ImageType = first(props, "og:image:type")
		if f.ImageType == "" {
			f.ImageType = GuessImageType(resolved)
		}
	}
	f.ApplicationName = guessApplication(props)
	return f
}

func first(props map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(props[k]); v != "" {
			return v
		}
	}
	return ""
}

func longest(values ...string) string {
	var best string
	for _, v := range values {
		if len(v) > len(best) {
			best = v
		}
	}
	return best
}

var socialApplications = map[string]struct{}{
	"misskey":   {},
	"sharkey":   {},
	"foundkey":  {},
	"iceshrimp": {},
	"catodon":   {},
	"firefish":  {},
}

// guessApplication flags pages carrying profile or Misskey-family hints.
func guessApplication(props map[string]string) string {
	for _, key := range []string{
		"profile:username",
		"og:profile:username",
		"misskey:user-username",
		"misskey:user-id",
		"misskey:note-id",
	} {
		if _, ok := props[key]; ok {
			return GuessedSocial
		}
	}
	if app, ok := props["application-name"]; ok {
		if _, known := socialApplications[strings.ToLower(strings.TrimSpace(app))]; known {
			return GuessedSocial
		}
	}
	return ""
}
