// Package metadirective interprets robots-family <meta> tags for one agent.
package metadirective

import (
	"strings"
)

// Action is a set of directive keywords.
type Action uint8

const (
	// NoIndex forbids indexing the page.
	NoIndex Action = 1 << iota
	// NoSnippet forbids showing page content in previews.
	NoSnippet
)

// None is the "none" keyword: both noindex and nosnippet.
const None = NoIndex | NoSnippet

// Has reports whether a contains all flags of b.
func (a Action) Has(b Action) bool { return a&b == b }

// Blocks reports whether the action forbids building a snapshot.
func (a Action) Blocks() bool { return a&(NoIndex|NoSnippet) != 0 }

func (a Action) String() string {
	var parts []string
	if a.Has(NoIndex) {
		parts = append(parts, "noindex")
	}
	if a.Has(NoSnippet) {
		parts = append(parts, "nosnippet")
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, ",")
}

// Wildcard is the AppliesTo token for the generic "robots" name.
const Wildcard = "*"

// Directive is one parsed <meta> robots instruction.
type Directive struct {
	AppliesTo []string
	Action    Action
}

// Parse interprets a meta name/content pair for agentToken. The name is
// split on commas and each part matched by case-insensitive substring
// against "robots" and agentToken. ok is false when the tag is not a
// robots-family tag for this agent.
func Parse(name, content, agentToken string) (Directive, bool) {
	token := strings.ToLower(strings.TrimSpace(agentToken))
	var d Directive
	for _, part := range strings.Split(strings.ToLower(name), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch {
		case token != "" && strings.Contains(part, token):
			d.AppliesTo = appendUnique(d.AppliesTo, token)
		case strings.Contains(part, "robots"):
			d.AppliesTo = appendUnique(d.AppliesTo, Wildcard)
		}
	}
	if len(d.AppliesTo) == 0 {
		return Directive{}, false
	}
	d.Action = parseContent(content)
	return d, true
}

func parseContent(content string) Action {
	var a Action
	for _, kw := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	}) {
		switch kw {
		case "noindex":
			a |= NoIndex
		case "nosnippet":
			a |= NoSnippet
		case "none":
			a |= None
		}
	}
	return a
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Specific reports whether d names the agent rather than only the wildcard.
func (d Directive) Specific() bool {
	for _, t := range d.AppliesTo {
		if t != Wildcard {
			return true
		}
	}
	return false
}

// Scanner accumulates directives seen during one document parse.
// It is not safe for concurrent use.
type Scanner struct {
	agentToken string
	directives []Directive
}

// NewScanner returns a Scanner for agentToken.
func NewScanner(agentToken string) *Scanner {
	return &Scanner{agentToken: agentToken}
}

// Observe feeds one <meta> element's name and content.
func (s *Scanner) Observe(name, content string) {
	if d, ok := Parse(name, content, s.agentToken); ok {
		s.directives = append(s.directives, d)
	}
}

// Directives returns everything observed so far.
func (s *Scanner) Directives() []Directive {
	return append([]Directive(nil), s.directives...)
}

// Result combines the observed directives: if any names the agent, the OR
// of those applies, otherwise the OR of the wildcard ones.
func (s *Scanner) Result() Action {
	return Combine(s.directives)
}

// Blocks reports whether the combined result forbids a snapshot.
func (s *Scanner) Blocks() bool {
	return s.Result().Blocks()
}

// Combine implements Scanner.Result for an arbitrary directive list.
func Combine(directives []Directive) Action {
	var specific, wildcard Action
	haveSpecific := false
	for _, d := range directives {
		if d.Specific() {
			haveSpecific = true
			specific |= d.Action
			continue
		}
		wildcard |= d.Action
	}
	if haveSpecific {
		return specific
	}
	return wildcard
}
