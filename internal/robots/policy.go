// Package robots resolves robots.txt policy per host and answers
// allow/deny questions for a path and agent token.
package robots

import (
	"bufio"
	"bytes"
	"strings"
	"time"
)

// RuleKind distinguishes Allow from Disallow lines.
type RuleKind int

const (
	// Disallow forbids paths matching the pattern.
	Disallow RuleKind = iota
	// Allow permits paths matching the pattern.
	Allow
)

func (k RuleKind) String() string {
	if k == Allow {
		return "allow"
	}
	return "disallow"
}

// Rule is a single Allow/Disallow line bound to one user-agent token.
type Rule struct {
	UserAgent string
	Kind      RuleKind
	Pattern   string
}

// Policy is the parsed robots.txt of one host. It is never mutated after
// construction; refreshing a host replaces the whole value.
type Policy struct {
	Host      string
	Rules     []Rule
	FetchedAt time.Time
	TTL       time.Duration
}

// Decision is the outcome of evaluating a path.
type Decision int

const (
	// Allowed means the path may be fetched.
	Allowed Decision = iota
	// Denied means a rule forbids the path.
	Denied
)

func (d Decision) String() string {
	if d == Denied {
		return "denied"
	}
	return "allowed"
}

// Parse reads robots.txt content into ordered rules. Consecutive
// User-agent lines share the rules that follow them. An empty Disallow, and
// a group with no Allow/Disallow lines at all, are kept as a zero-length
// Allow so the group still exists for selection.
func Parse(body []byte) []Rule {
	var (
		rules        []Rule
		agents       []string
		lastWasAgent bool
		groupRules   int
	)
	closeGroup := func() {
		if groupRules == 0 {
			for _, agent := range agents {
				rules = append(rules, Rule{UserAgent: agent, Kind: Allow})
			}
		}
		agents = nil
		groupRules = 0
	}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if !lastWasAgent {
				closeGroup()
			}
			if value != "" {
				agents = append(agents, strings.ToLower(value))
			}
			lastWasAgent = true
		case "allow", "disallow":
			lastWasAgent = false
			kind := Disallow
			if key == "allow" || value == "" {
				kind = Allow
			}
			for _, agent := range agents {
				rules = append(rules, Rule{UserAgent: agent, Kind: kind, Pattern: value})
			}
			groupRules++
		default:
			lastWasAgent = false
		}
	}
	closeGroup()
	return rules
}

// Evaluate decides path for agentToken. The group named exactly by the
// token wins over "*"; with neither present everything is allowed. Within
// the group the longest matching pattern decides and Allow wins ties.
func (p *Policy) Evaluate(path, agentToken string) Decision {
	if p == nil {
		return Allowed
	}
	group := p.group(strings.ToLower(agentToken))
	if group == nil {
		group = p.group("*")
	}
	if path == "" {
		path = "/"
	}
	best := -1
	decision := Allowed
	for _, rule := range group {
		if !match(rule.Pattern, path) {
			continue
		}
		length := len(rule.Pattern)
		if length > best || (length == best && rule.Kind == Allow) {
			best = length
			if rule.Kind == Allow {
				decision = Allowed
			} else {
				decision = Denied
			}
		}
	}
	return decision
}

func (p *Policy) group(agent string) []Rule {
	var out []Rule
	for _, rule := range p.Rules {
		if rule.UserAgent == agent {
			out = append(out, rule)
		}
	}
	return out
}

// match reports whether pattern matches a prefix of path. '*' matches any
// run of characters and a trailing '$' anchors the pattern to the end.
func match(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = strings.TrimSuffix(pattern, "$")
	}
	segments := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, segments[0]) {
		return false
	}
	if len(segments) == 1 {
		return !anchored || path == segments[0]
	}
	pos := len(segments[0])
	middle := segments[1 : len(segments)-1]
	for _, seg := range middle {
		i := strings.Index(path[pos:], seg)
		if i < 0 {
			return false
		}
		pos += i + len(seg)
	}
	last := segments[len(segments)-1]
	if anchored {
		return len(path)-pos >= len(last) && strings.HasSuffix(path, last)
	}
	return strings.Contains(path[pos:], last)
}
