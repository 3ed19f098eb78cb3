package proxy

import (
	"net/url"
	"path"
	"strings"
)

// NamingStrategy selects how origin references are renamed to proxy-relative
// paths. Historically this proxy existed in basename-only and
// path-preserving variants; the strategy is now an explicit option.
type NamingStrategy string

const (
	// NamingPath preserves the reference's path relative to the manifest
	// directory. Raw-proxied variant playlists keep working because their
	// directory-relative segment refs still resolve under the proxy.
	NamingPath NamingStrategy = "path"

	// NamingBasename reduces every reference to its final path component.
	NamingBasename NamingStrategy = "basename"
)

// ParseNamingStrategy maps a config string to a strategy, defaulting to
// NamingPath for unknown values.
func ParseNamingStrategy(s string) NamingStrategy {
	if NamingStrategy(strings.ToLower(s)) == NamingBasename {
		return NamingBasename
	}
	return NamingPath
}

// RewriteResult is the outcome of rewriting one manifest.
type RewriteResult struct {
	// Manifest is the proxy-relative manifest to serve to clients.
	Manifest []byte

	// Refs maps each proxy-relative reference written into Manifest to the
	// absolute origin URL it replaced, including the reference's own query
	// string. Resolution consults this map before falling back to base-URL
	// joining, which is what makes cross-host and query-carrying references
	// reconstructible.
	Refs map[string]string
}

// Rewriter transforms fetched manifest bytes into a proxy-relative version.
// Implementations must preserve order and all non-URL content, and must fail
// the whole rewrite rather than return a partially rewritten manifest.
type Rewriter interface {
	Rewrite(raw []byte, base *url.URL) (*RewriteResult, error)
}

// RewriterFor returns the rewriter for a manifest format.
func RewriterFor(format Format, naming NamingStrategy) Rewriter {
	if format == FormatDASH {
		return &dashRewriter{naming: naming}
	}
	return &hlsRewriter{naming: naming}
}

// mergeAuthQuery merges auth parameters into u's query in place. The
// reference's own parameters are kept and the auth parameters are appended;
// on a key collision the auth parameter wins.
func mergeAuthQuery(u *url.URL, auth url.Values) {
	if len(auth) == 0 {
		return
	}
	q := u.Query()
	for k, vs := range auth {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
}

// proxyRef converts a resolved absolute origin URL into the proxy-relative
// path written into the manifest. The query string is dropped here; it travels
// in RewriteResult.Refs and is reattached at resolve time.
func proxyRef(resolved, base *url.URL, naming NamingStrategy) string {
	p := resolved.Path
	if naming == NamingBasename {
		return path.Base(p)
	}
	baseDir := path.Dir(base.Path)
	if baseDir != "/" {
		baseDir += "/"
	}
	if resolved.Host == base.Host && strings.HasPrefix(p, baseDir) {
		return strings.TrimPrefix(p, baseDir)
	}
	return strings.TrimPrefix(p, "/")
}
