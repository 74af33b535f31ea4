package classifier

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestHostPatterns(t *testing.T) {
	t.Parallel()

	m := newHostPatterns([]string{"youtu.be", "*.youtube.com", ".bilibili.com", " ", "*."})
	require.NotNil(t, m)

	cases := map[string]bool{
		"youtu.be":         true,
		"www.youtu.be":     false,
		"youtube.com":      true,
		"m.youtube.com":    true,
		"www.bilibili.com": true,
		"notyoutube.com":   false,
		"YOUTUBE.COM.":     true,
		"":                 false,
		"example.com":      false,
	}
	for host, want := range cases {
		require.Equal(t, want, m.Matches(host), host)
	}

	require.Nil(t, newHostPatterns(nil))
	var nilPatterns *hostPatterns
	require.False(t, nilPatterns.Matches("anything"))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := New(map[string][]string{
		"youtube":  {"youtube.com", "*.youtube.com", "youtu.be"},
		"bilibili": {"*.bilibili.com", "b23.tv"},
	}, []string{"twitter.com", "*.x.com"})

	cases := []struct {
		raw  string
		want Classification
	}{
		{"https://www.youtube.com/watch?v=abc", Classification{Kind: VideoAPI, Provider: "youtube"}},
		{"https://youtu.be/abc", Classification{Kind: VideoAPI, Provider: "youtube"}},
		{"https://b23.tv/xyz", Classification{Kind: VideoAPI, Provider: "bilibili"}},
		{"https://www.bilibili.com:443/video/BV1", Classification{Kind: VideoAPI, Provider: "bilibili"}},
		{"https://example.com/watch", Classification{Kind: GenericHTML}},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, c.Classify(mustURL(t, tc.raw)), tc.raw)
	}

	require.True(t, c.Ignored("twitter.com"))
	require.True(t, c.Ignored("mobile.x.com"))
	require.True(t, c.Ignored("x.com"))
	require.False(t, c.Ignored("example.com"))
	require.Equal(t, "video", VideoAPI.String())
	require.Equal(t, "html", GenericHTML.String())
}
