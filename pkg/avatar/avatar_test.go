package avatar

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"blank", "   ", ""},
		{"deprecated host", "https://upload.astracode.dev/avatars/1.png", ""},
		{"deprecated host any case", "//UPLOAD.astracode.dev/a.png", ""},
		{"absolute https", "https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"absolute http", "http://cdn.example.com/a.png", "http://cdn.example.com/a.png"},
		{"protocol relative", "//cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"root relative", "/u/1.png", "https://astracode.dev/u/1.png"},
		{"bare path", "u/1.png", "https://astracode.dev/u/1.png"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveURL(tc.in))
		})
	}
}

func TestResolveCustomOrigin(t *testing.T) {
	r := Resolver{Origin: "https://chat.example.org/", DeprecatedHosts: []string{}}
	assert.Equal(t, "https://chat.example.org/u/1.png", r.Resolve("/u/1.png"))
	// No deprecated hosts configured, so the old upload host passes.
	assert.Equal(t, "https://upload.astracode.dev/x.png", r.Resolve("https://upload.astracode.dev/x.png"))
}

func TestThumbnail(t *testing.T) {
	got := ThumbnailURL("/u/1.png", 0)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/u/1.png", u.Path)
	assert.Equal(t, "64", u.Query().Get("w"))
	assert.Equal(t, "64", u.Query().Get("h"))
	assert.Equal(t, "cover", u.Query().Get("fit"))
	assert.Equal(t, "75", u.Query().Get("q"))

	// Existing parameters win.
	u, err = url.Parse(ThumbnailURL("https://cdn.example.com/a.png?w=10", 32))
	require.NoError(t, err)
	assert.Equal(t, "10", u.Query().Get("w"))
	assert.Equal(t, "32", u.Query().Get("h"))

	assert.Equal(t, "https://cdn.example.com/logo.svg", ThumbnailURL("https://cdn.example.com/logo.svg", 32))
	assert.Equal(t, "", ThumbnailURL("", 32))
}
