// Package paths resolves incoming request paths to bundle coordinates.
//
// The URL surface is /<scope>/<launcherBundleId>/<appSlug>/<relativePath...>.
// Resolution is a total, side-effect-free function so it can be tested
// exhaustively without the server runtime.
package paths

import "strings"

// IndexFile is served when a resolved path names a directory, ends in a
// slash, or has no trailing segments.
const IndexFile = "index.html"

// Resolved is the outcome of mapping a request path onto a bundle.
type Resolved struct {
	BundleID     string
	AppSlug      string
	RelativePath string
}

// Resolve maps a URL path under scopePrefix to bundle coordinates. It
// reports false for paths outside this subsystem's authority: anything not
// under the scope, or under it with fewer than two segments.
func Resolve(urlPath, scopePrefix string) (Resolved, bool) {
	scope := strings.TrimSuffix(scopePrefix, "/")
	if scope != "" {
		if urlPath != scope && !strings.HasPrefix(urlPath, scope+"/") {
			return Resolved{}, false
		}
		urlPath = strings.TrimPrefix(urlPath, scope)
	}

	trailingSlash := strings.HasSuffix(urlPath, "/")
	segments := splitSegments(urlPath)
	if len(segments) < 2 {
		return Resolved{}, false
	}

	rel := strings.Join(segments[2:], "/")
	if rel == "" || trailingSlash {
		if rel != "" {
			rel += "/"
		}
		rel += IndexFile
	}
	return Resolved{
		BundleID:     segments[0],
		AppSlug:      segments[1],
		RelativePath: rel,
	}, true
}

// IsScopeRoot reports whether the path is the bare scope: the reset signal
// clearing cached bundle and app-slug state back to idle.
func IsScopeRoot(urlPath, scopePrefix string) bool {
	scope := strings.TrimSuffix(scopePrefix, "/")
	return urlPath == scope || urlPath == scope+"/"
}

// StorePath maps a resolution onto the bundle's virtual filesystem, where
// each app lives under its slug.
func (r Resolved) StorePath() string {
	return "/" + r.AppSlug + "/" + r.RelativePath
}

// IndexPath is the app's single-page fallback document.
func (r Resolved) IndexPath() string {
	return "/" + r.AppSlug + "/" + IndexFile
}

func splitSegments(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
