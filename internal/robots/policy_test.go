package robots

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGroupsConsecutiveAgents(t *testing.T) {
	t.Parallel()

	body := []byte(`# comment
User-agent: Googlebot
User-agent: fedineko-crabo
Disallow: /private/*   # trailing comment
Allow: /private/open

User-agent: *
Disallow: /
Sitemap: https://example.com/sitemap.xml
`)
	rules := Parse(body)
	require.Equal(t, []Rule{
		{UserAgent: "googlebot", Kind: Disallow, Pattern: "/private/*"},
		{UserAgent: "fedineko-crabo", Kind: Disallow, Pattern: "/private/*"},
		{UserAgent: "googlebot", Kind: Allow, Pattern: "/private/open"},
		{UserAgent: "fedineko-crabo", Kind: Allow, Pattern: "/private/open"},
		{UserAgent: "*", Kind: Disallow, Pattern: "/"},
	}, rules)
}

func TestParseIgnoresRulesWithoutAgent(t *testing.T) {
	t.Parallel()

	rules := Parse([]byte("Disallow: /\nnonsense line\nCrawl-delay: 5\n"))
	require.Empty(t, rules)
}

func TestEvaluateDisallowWildcardExample(t *testing.T) {
	t.Parallel()

	p := &Policy{Rules: Parse([]byte("User-agent: fedineko-crabo\nDisallow: /private/*\n"))}
	require.Equal(t, Denied, p.Evaluate("/private/page", "fedineko-crabo"))
	require.Equal(t, Allowed, p.Evaluate("/public/page", "fedineko-crabo"))
}

func TestEvaluateGroupSelection(t *testing.T) {
	t.Parallel()

	body := []byte("User-agent: *\nDisallow: /\n\nUser-agent: Fedineko-Crabo\nDisallow:\n")
	p := &Policy{Rules: Parse(body)}

	require.Equal(t, Allowed, p.Evaluate("/anything", "fedineko-crabo"), "own empty group beats *")
	require.Equal(t, Denied, p.Evaluate("/anything", "otherbot"))
	require.Equal(t, Denied, p.Evaluate("/anything", "fedineko"), "token match is exact, not prefix")
}

func TestEvaluateOwnGroupWithoutRules(t *testing.T) {
	t.Parallel()

	body := []byte("User-agent: fedineko-crabo\nCrawl-delay: 5\n\nUser-agent: *\nDisallow: /\n")
	rules := Parse(body)
	require.Equal(t, []Rule{
		{UserAgent: "fedineko-crabo", Kind: Allow},
		{UserAgent: "*", Kind: Disallow, Pattern: "/"},
	}, rules)

	p := &Policy{Rules: rules}
	require.Equal(t, Allowed, p.Evaluate("/page", "fedineko-crabo"), "own group beats * even without rules")
	require.Equal(t, Denied, p.Evaluate("/page", "otherbot"))

	trailing := &Policy{Rules: Parse([]byte("User-agent: *\nDisallow: /\n\nUser-agent: fedineko-crabo\n"))}
	require.Equal(t, Allowed, trailing.Evaluate("/page", "fedineko-crabo"), "group at end of file")
}

func TestEvaluateNoGroupAllows(t *testing.T) {
	t.Parallel()

	p := &Policy{Rules: Parse([]byte("User-agent: googlebot\nDisallow: /\n"))}
	require.Equal(t, Allowed, p.Evaluate("/x", "fedineko-crabo"))

	var nilPolicy *Policy
	require.Equal(t, Allowed, nilPolicy.Evaluate("/x", "fedineko-crabo"))
}

func TestEvaluateLongestMatchWins(t *testing.T) {
	t.Parallel()

	body := []byte(`User-agent: *
Disallow: /docs/
Allow: /docs/public/
Disallow: /docs/public/secret
Allow: /tie
Disallow: /tie
Disallow: /*.pdf$
`)
	p := &Policy{Rules: Parse(body)}

	cases := map[string]Decision{
		"/docs/internal":           Denied,
		"/docs/public/readme":      Allowed,
		"/docs/public/secret.html": Denied,
		"/tie/x":                   Allowed,
		"/files/report.pdf":        Denied,
		"/files/report.pdf?x=1":    Allowed,
		"/other":                   Allowed,
		"":                         Allowed,
	}
	for path, want := range cases {
		require.Equal(t, want, p.Evaluate(path, "fedineko-crabo"), path)
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/", "/anything", true},
		{"/a", "/abc", true},
		{"/a$", "/abc", false},
		{"/a$", "/a", true},
		{"/*/edit", "/post/1/edit", true},
		{"/*/edit", "/post/1/view", false},
		{"/p*", "/p", true},
		{"/a*b*c", "/a-b-c-d", true},
		{"/a*b*c$", "/a-b-c-d", false},
		{"/a*c$", "/ac", true},
		{"", "/x", true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, match(tc.pattern, tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}
