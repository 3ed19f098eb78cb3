package proxy

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// keyPathPrefix marks proxy-relative encryption-key references so the segment
// proxy knows to attach the key-endpoint credential.
const keyPathPrefix = "key/"

const keyURIAttr = `URI="`

// hlsRewriter rewrites .m3u8 playlists line by line. Directive and comment
// lines pass through verbatim except #EXT-X-KEY, whose URI attribute is
// redirected through the proxy. Non-comment lines referencing a sub-playlist
// or a known segment extension become proxy-relative paths; everything else is
// left untouched.
type hlsRewriter struct {
	naming NamingStrategy
}

func (r *hlsRewriter) Rewrite(raw []byte, base *url.URL) (*RewriteResult, error) {
	lines := strings.Split(string(raw), "\n")

	if !hasM3U8Header(lines) {
		return nil, fmt.Errorf("%w: missing #EXTM3U header", ErrManifestParse)
	}

	refs := make(map[string]string)
	out := make([]string, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			out[i] = line
		case strings.HasPrefix(trimmed, "#EXT-X-KEY:"):
			out[i] = rewriteKeyLine(line, base, refs)
		case strings.HasPrefix(trimmed, "#"):
			out[i] = line
		case isRewritableRef(trimmed):
			ref, origin, err := rewriteRef(trimmed, base, r.naming)
			if err != nil {
				return nil, fmt.Errorf("%w: bad reference %q: %v", ErrManifestParse, trimmed, err)
			}
			refs[ref] = origin
			out[i] = ref
		default:
			out[i] = line
		}
	}

	return &RewriteResult{
		Manifest: []byte(strings.Join(out, "\n")),
		Refs:     refs,
	}, nil
}

// hasM3U8Header reports whether the first non-blank line is the #EXTM3U tag.
func hasM3U8Header(lines []string) bool {
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" {
			continue
		}
		return strings.HasPrefix(t, "#EXTM3U")
	}
	return false
}

// isRewritableRef reports whether a URI line references a sub-playlist or a
// known segment type, with or without a trailing query string.
func isRewritableRef(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m3u8", ".ts", ".aac", ".mp4", ".vtt", ".webvtt":
		return true
	}
	return false
}

// rewriteRef turns one playlist reference into a proxy-relative path and the
// absolute origin URL it stands for.
func rewriteRef(ref string, base *url.URL, naming NamingStrategy) (string, string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", err
	}
	resolved := base.ResolveReference(u)
	return proxyRef(resolved, base, naming), resolved.String(), nil
}

// rewriteKeyLine redirects the URI attribute of an #EXT-X-KEY directive
// through the proxy, keeping any key-identifying query parameters on the proxy
// path. Only the URI span is spliced; the rest of the line stays verbatim.
// Lines without a parseable URI attribute pass through unchanged.
func rewriteKeyLine(line string, base *url.URL, refs map[string]string) string {
	start := strings.Index(line, keyURIAttr)
	if start < 0 {
		return line
	}
	uriStart := start + len(keyURIAttr)
	end := strings.IndexByte(line[uriStart:], '"')
	if end < 0 {
		return line
	}

	u, err := url.Parse(line[uriStart : uriStart+end])
	if err != nil {
		return line
	}
	resolved := base.ResolveReference(u)

	ref := keyPathPrefix + path.Base(resolved.Path)
	if resolved.RawQuery != "" {
		ref += "?" + resolved.RawQuery
	}
	refs[ref] = resolved.String()

	return line[:uriStart] + ref + line[uriStart+end:]
}

// RewriteInlineHLS produces a session-less rewrite of a playlist: every
// rewritable reference (including #EXT-X-KEY URIs) is resolved to an absolute
// origin URL with the manifest URL's own query parameters appended inline, so
// clients fetch media directly from the origin and bypass the proxy.
func RewriteInlineHLS(raw []byte, manifestURL *url.URL) ([]byte, error) {
	auth := manifestURL.Query()
	base := *manifestURL
	base.RawQuery = ""
	base.Fragment = ""

	lines := strings.Split(string(raw), "\n")
	if !hasM3U8Header(lines) {
		return nil, fmt.Errorf("%w: missing #EXTM3U header", ErrManifestParse)
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			out[i] = line
		case strings.HasPrefix(trimmed, "#EXT-X-KEY:"):
			out[i] = inlineKeyLine(line, &base, auth)
		case strings.HasPrefix(trimmed, "#"):
			out[i] = line
		case isRewritableRef(trimmed):
			u, err := url.Parse(trimmed)
			if err != nil {
				return nil, fmt.Errorf("%w: bad reference %q: %v", ErrManifestParse, trimmed, err)
			}
			resolved := base.ResolveReference(u)
			mergeAuthQuery(resolved, auth)
			out[i] = resolved.String()
		default:
			out[i] = line
		}
	}

	return []byte(strings.Join(out, "\n")), nil
}

// inlineKeyLine resolves an #EXT-X-KEY URI to an absolute origin URL with auth
// parameters appended inline.
func inlineKeyLine(line string, base *url.URL, auth url.Values) string {
	start := strings.Index(line, keyURIAttr)
	if start < 0 {
		return line
	}
	uriStart := start + len(keyURIAttr)
	end := strings.IndexByte(line[uriStart:], '"')
	if end < 0 {
		return line
	}

	u, err := url.Parse(line[uriStart : uriStart+end])
	if err != nil {
		return line
	}
	resolved := base.ResolveReference(u)
	mergeAuthQuery(resolved, auth)

	return line[:uriStart] + resolved.String() + line[uriStart+end:]
}
