package crawl

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText returns the visible text of an HTML document with whitespace
// collapsed. A non-empty <title> is prepended on its own line.
func HTMLToText(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template, iframe").Remove()

	title := collapse(doc.Find("title").First().Text())
	body := doc.Find("body")
	var text string
	if body.Length() > 0 {
		text = collapse(body.Text())
	} else {
		doc.Find("head").Remove()
		text = collapse(doc.Text())
	}

	switch {
	case title == "":
		return text, nil
	case text == "":
		return title, nil
	default:
		return title + "\n\n" + text, nil
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
