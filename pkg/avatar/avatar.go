// Package avatar turns the avatar references returned by the backend into
// URLs a client can fetch.
package avatar

import (
	"net/url"
	"path"
	"strconv"
	"strings"
)

const (
	// DefaultOrigin is the public web origin relative avatar paths resolve against.
	DefaultOrigin = "https://astracode.dev"
	// DeprecatedUploadHost served direct uploads. Avatars are now carried in
	// profile payloads, so links to it are dropped instead of fetched.
	DeprecatedUploadHost = "upload.astracode.dev"
	// DefaultThumbnailSize is the edge length used when none is given.
	DefaultThumbnailSize = 64
)

// Resolver applies the avatar URL rules. The zero value uses the defaults.
type Resolver struct {
	Origin          string
	DeprecatedHosts []string
}

// Default is the resolver used when nothing is configured.
var Default = Resolver{}

func (r Resolver) origin() string {
	if r.Origin == "" {
		return DefaultOrigin
	}
	return strings.TrimRight(r.Origin, "/")
}

func (r Resolver) deprecatedHosts() []string {
	if r.DeprecatedHosts == nil {
		return []string{DeprecatedUploadHost}
	}
	return r.DeprecatedHosts
}

// Resolve returns a fetchable URL for raw, or "" when there is none.
//
//	""                          -> ""
//	"https://upload.../a.png"   -> ""  (deprecated host)
//	"https://cdn/x.png"         -> unchanged
//	"//cdn/x.png"               -> "https://cdn/x.png"
//	"/u/1.png", "u/1.png"       -> origin + "/u/1.png"
func (r Resolver) Resolve(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}

	lower := strings.ToLower(v)
	for _, host := range r.deprecatedHosts() {
		if host != "" && strings.Contains(lower, strings.ToLower(host)) {
			return ""
		}
	}

	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return v
	case strings.HasPrefix(v, "//"):
		return "https:" + v
	case strings.HasPrefix(v, "/"):
		return r.origin() + v
	default:
		return r.origin() + "/" + v
	}
}

// Thumbnail resolves raw and asks the image host for a size×size cover crop.
// SVGs and parameters already present are left alone.
func (r Resolver) Thumbnail(raw string, size int) string {
	resolved := r.Resolve(raw)
	if resolved == "" {
		return ""
	}
	if size <= 0 {
		size = DefaultThumbnailSize
	}

	u, err := url.Parse(resolved)
	if err != nil {
		return resolved
	}
	if strings.EqualFold(path.Ext(u.Path), ".svg") {
		return resolved
	}

	q := u.Query()
	edge := strconv.Itoa(size)
	for _, kv := range [][2]string{{"w", edge}, {"h", edge}, {"fit", "cover"}, {"q", "75"}} {
		if !q.Has(kv[0]) {
			q.Set(kv[0], kv[1])
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ResolveURL applies the default rules.
func ResolveURL(raw string) string { return Default.Resolve(raw) }

// ThumbnailURL applies the default rules with the given size.
func ThumbnailURL(raw string, size int) string { return Default.Thumbnail(raw, size) }
