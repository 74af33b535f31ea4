package extract

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedineko/crabo/internal/metadirective"
)

const agent = "fedineko-crabo"

func page(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://example.com/articles/1")
	require.NoError(t, err)
	return u
}

func TestOpenGraphTitleOnly(t *testing.T) {
	t.Parallel()

	doc := `<html><head><meta property="og:title" content="Example"></head><body></body></html>`
	res, err := Document([]byte(doc), page(t), agent)
	require.NoError(t, err)
	require.False(t, res.Blocked())
	require.Equal(t, "Example", res.Title)
	require.Empty(t, res.Description)
	require.Empty(t, res.ImageURL)
}

func TestOpenGraphPreferredOverFallbacks(t *testing.T) {
	t.Parallel()

	doc := `<!doctype html><html><head>
<title>Page title</title>
<meta name="description" content="A much longer plain description than the og one">
<meta property="og:title" content="OG &amp; title">
<meta property="og:description" content="OG <b>description</b>">
<meta property="og:image" content="/img/cover.png">
<meta property="og:site_name" content="Example Site">
</head><body><meta property="og:title" content="ignored"></body></html>`
	res, err := Document([]byte(doc), page(t), agent)
	require.NoError(t, err)
	require.Equal(t, "OG & title", res.Title)
	require.Equal(t, "OG description", res.Description)
	require.Equal(t, "https://example.com/img/cover.png", res.ImageURL)
	require.Equal(t, "image/png", res.ImageType)
	require.Equal(t, "Example Site", res.SiteName)
}

func TestFallsBackToTitleAndDescription(t *testing.T) {
	t.Parallel()

	doc := `<html><head><title>  Plain
 title </title><meta name="Description" content="short">
<meta name="twitter:description" content="a longer twitter description">
<meta name="twitter:image" content="https://cdn.example.com/a.jpg"></head></html>`
	res, err := Document([]byte(doc), page(t), agent)
	require.NoError(t, err)
	require.Equal(t, "Plain title", res.Title)
	require.Equal(t, "a longer twitter description", res.Description)
	require.Equal(t, "https://cdn.example.com/a.jpg", res.ImageURL)
	require.Equal(t, "image/jpeg", res.ImageType)
}

func TestAgentNoSnippetBlocksEvenWithOpenGraph(t *testing.T) {
	t.Parallel()

	doc := `<html><head>
<meta property="og:title" content="Example">
<meta property="og:description" content="Desc">
<meta property="og:image" content="https://example.com/i.png">
<meta name="fedineko-crabo" content="nosnippet">
</head></html>`
	res, err := Document([]byte(doc), page(t), agent)
	require.NoError(t, err)
	require.True(t, res.Blocked())
	require.Equal(t, metadirective.NoSnippet, res.Directive)
	require.Equal(t, Fields{}, res.Fields)
}

func TestRobotsNoIndexBlocks(t *testing.T) {
	t.Parallel()

	doc := `<head><META NAME="robots" CONTENT="noindex, nofollow"><meta property="og:title" content="x"></head>`
	res, err := Document([]byte(doc), page(t), agent)
	require.NoError(t, err)
	require.True(t, res.Blocked())
}

func TestAgentAllowOverridesWildcard(t *testing.T) {
	t.Parallel()

	doc := `<head><meta name="robots" content="noindex"><meta name="fedineko-crabo" content="all">
<meta property="og:title" content="Visible"></head>`
	res, err := Document([]byte(doc), page(t), agent)
	require.NoError(t, err)
	require.False(t, res.Blocked())
	require.Equal(t, "Visible", res.Title)
}

func TestDirectivesAfterHeadIgnored(t *testing.T) {
	t.Parallel()

	doc := `<head><meta property="og:title" content="T"></head><body><meta name="robots" content="none"></body>`
	res, err := Document([]byte(doc), page(t), agent)
	require.NoError(t, err)
	require.False(t, res.Blocked())
	require.Equal(t, "T", res.Title)
}

func TestTruncatedDocumentStillYieldsFields(t *testing.T) {
	t.Parallel()

	doc := `<html><head><meta property="og:title" content="Partial"><meta property="og:descr`
	res, err := Document([]byte(doc), page(t), agent)
	require.NoError(t, err)
	require.Equal(t, "Partial", res.Title)
}

func TestGuessApplication(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`<meta property="profile:username" content="neko">`:        GuessedSocial,
		`<meta name="misskey:note-id" content="9x">`:               GuessedSocial,
		`<meta name="application-name" content="Sharkey">`:         GuessedSocial,
		`<meta name="application-name" content="WordPress">`:       "",
		`<meta property="og:title" content="nothing social here">`: "",
	}
	for meta, want := range cases {
		res, err := Document([]byte("<head>"+meta+"</head>"), page(t), agent)
		require.NoError(t, err)
		require.Equal(t, want, res.ApplicationName, meta)
	}
}

func TestStreamReader(t *testing.T) {
	t.Parallel()

	res, err := Stream(strings.NewReader(`<title>From reader</title>`), page(t), agent)
	require.NoError(t, err)
	require.Equal(t, "From reader", res.Title)
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base := page(t)
	got, ok := ResolveURL(base, "../img/a.webp")
	require.True(t, ok)
	require.Equal(t, "https://example.com/img/a.webp", got)

	got, ok = ResolveURL(base, "//cdn.example.com/b.gif")
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/b.gif", got)

	_, ok = ResolveURL(base, "data:image/png;base64,AAAA")
	require.False(t, ok)
	_, ok = ResolveURL(base, "")
	require.False(t, ok)
}

func TestClean(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Hello world & friends", Clean("<p>Hello\n\t<em>world</em> &amp; friends</p>"))
	require.Equal(t, "", Clean("<script>alert(1)</script>"))
	require.Equal(t, "", Clean(""))
}
