package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlToText flattens an HTML document to plain text, dropping script, style
// and navigation chrome. Used when readability cannot identify an article
// body, and for feed entries whose description arrives as HTML.
func htmlToText(raw []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var parts []string
	root.Find("p, li, h1, h2, h3, h4, pre").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return CleanText(root.Text())
	}
	return CleanText(strings.Join(parts, "\n\n"))
}

// maybeHTML reports whether a feed body looks like markup rather than plain
// text.
func maybeHTML(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return strings.Contains(trimmed, "</") || strings.Contains(trimmed, "/>") || strings.HasPrefix(trimmed, "<")
}
