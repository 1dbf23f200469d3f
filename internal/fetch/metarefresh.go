package fetch

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// MetaRefreshTarget returns the absolute URL named by the first
// <meta http-equiv="refresh"> in an HTML outcome. The body is decoded with
// the response's declared charset before parsing.
func MetaRefreshTarget(o *Outcome) (*url.URL, bool) {
	if o == nil || len(o.Body) == 0 {
		return nil, false
	}
	text, err := o.Encoding().Decode(o.Body)
	if err != nil {
		return nil, false
	}
	node, err := html.Parse(strings.NewReader(text))
	if err != nil || node == nil {
		return nil, false
	}
	meta := findMetaRefresh(node)
	if meta == nil {
		return nil, false
	}
	raw, ok := parseRefreshContent(attr(meta, "content"))
	if !ok {
		return nil, false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	base := o.FinalURL
	if base == nil {
		return ref, ref.IsAbs()
	}
	return base.ResolveReference(ref), true
}

func findMetaRefresh(n *html.Node) *html.Node {
	var res *html.Node
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if res != nil {
			return
		}
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, "meta") &&
			strings.EqualFold(strings.TrimSpace(attr(cur, "http-equiv")), "refresh") {
			res = cur
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
			if res != nil {
				return
			}
		}
	}
	dfs(n)
	return res
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// parseRefreshContent extracts the URL from a refresh value such as
// `0; url=/next`, `5;URL='https://x/'` or `0, /next`. A bare delay has no URL.
func parseRefreshContent(content string) (string, bool) {
	content = strings.TrimSpace(content)
	i := strings.IndexAny(content, ";,")
	if i < 0 {
		return "", false
	}
	rest := strings.TrimSpace(content[i+1:])
	if len(rest) >= 3 && strings.EqualFold(rest[:3], "url") {
		after := strings.TrimSpace(rest[3:])
		if strings.HasPrefix(after, "=") {
			rest = strings.TrimSpace(after[1:])
		}
	}
	if n := len(rest); n >= 2 && (rest[0] == '\'' || rest[0] == '"') {
		if end := strings.IndexByte(rest[1:], rest[0]); end >= 0 {
			rest = rest[1 : end+1]
		} else {
			rest = rest[1:]
		}
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
