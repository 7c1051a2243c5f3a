package convert

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// htmlConverter wraps sanitation + conversion of tracker-rendered HTML.
type htmlConverter struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
	base   *url.URL
}

func newHTMLConverter(baseURL string) *htmlConverter {
	u, _ := url.Parse(baseURL)
	return &htmlConverter{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		base: u,
	}
}

// Convert turns rendered HTML into Markdown. Relative attachment links are
// resolved against the tracker base URL before sanitation so the localizer
// sees absolute URLs. Returns an error on parse failure or empty output;
// callers fall back to the wiki converter.
func (h *htmlConverter) Convert(rendered string) (string, error) {
	if strings.TrimSpace(rendered) == "" {
		return "", fmt.Errorf("convert: empty html")
	}

	resolved, err := h.resolveLinks(rendered)
	if err != nil {
		return "", fmt.Errorf("convert: resolve links: %w", err)
	}

	clean := h.policy.Sanitize(resolved)

	md, err := h.conv.ConvertString(clean, converter.WithDomain(h.baseString()))
	if err != nil {
		return "", fmt.Errorf("convert: html to markdown: %w", err)
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return "", fmt.Errorf("convert: empty markdown output")
	}
	return md, nil
}

func (h *htmlConverter) baseString() string {
	if h.base == nil {
		return ""
	}
	return h.base.String()
}

// resolveLinks rewrites relative src/href attributes to absolute URLs.
func (h *htmlConverter) resolveLinks(rendered string) (string, error) {
	if h.base == nil {
		return rendered, nil
	}

	doc, err := html.Parse(strings.NewReader(rendered))
	if err != nil {
		return "", err
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i, attr := range n.Attr {
				if attr.Key != "src" && attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil || ref.IsAbs() {
					continue
				}
				n.Attr[i].Val = h.base.ResolveReference(ref).String()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return "", err
	}
	return sb.String(), nil
}
