package proxy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"
)

// dashRewriter rewrites .mpd manifests as a structured XML tree. Only the
// initialization and media attributes are touched; every other attribute,
// element, and the document order are preserved by the tree round trip.
type dashRewriter struct {
	naming NamingStrategy
}

func (r *dashRewriter) Rewrite(raw []byte, base *url.URL) (*RewriteResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "MPD" {
		return nil, fmt.Errorf("%w: root element is not MPD", ErrManifestParse)
	}

	refs := make(map[string]string)
	if err := r.rewriteElement(root, base, refs); err != nil {
		return nil, err
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}
	return &RewriteResult{Manifest: out, Refs: refs}, nil
}

// rewriteElement walks the tree depth-first rewriting segment URL attributes.
func (r *dashRewriter) rewriteElement(el *etree.Element, base *url.URL, refs map[string]string) error {
	for _, name := range []string{"initialization", "media"} {
		attr := el.SelectAttr(name)
		if attr == nil || attr.Value == "" {
			continue
		}
		ref, origin, ok, err := r.rewriteAttr(attr.Value, base)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		refs[ref] = origin
		attr.Value = ref
	}

	for _, child := range el.ChildElements() {
		if err := r.rewriteElement(child, base, refs); err != nil {
			return err
		}
	}
	return nil
}

// rewriteAttr rewrites a single attribute value. Only absolute URLs under the
// manifest's own host are rewritten; relative references already resolve
// correctly under the proxy manifest path and stay as they are.
func (r *dashRewriter) rewriteAttr(value string, base *url.URL) (ref, origin string, ok bool, err error) {
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return "", "", false, nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return "", "", false, fmt.Errorf("%w: bad segment URL %q: %v", ErrManifestParse, value, err)
	}
	// Cross-host segments route through the proxy as well; the original host
	// survives in the reference map rather than in the manifest.
	return proxyRef(u, base, r.naming), u.String(), true, nil
}
