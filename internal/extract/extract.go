// Package extract reduces rendered HTML to the visible text of a page.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrEmptyText indicates the page had no visible text left after reduction.
var ErrEmptyText = errors.New("no visible text on page")

// TextReducer reduces HTML to plain text.
type TextReducer interface {
	Reduce(html string) (string, error)
}

// noise is removed before text is collected.
const noise = "script, style, noscript, link, meta, head, footer, nav, svg, iframe, template"

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\r\v\x{00a0}]+`)
	blankLines  = regexp.MustCompile(`\n\s*\n`)
)

// HTMLReducer strips page chrome and collapses whitespace.
// Output is deterministic for a given input.
type HTMLReducer struct{}

// Reduce implements TextReducer.
func (HTMLReducer) Reduce(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find(noise).Remove()

	// Block elements otherwise glue their text together ("Pro$29").
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, section, article, br").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := Collapse(doc.Find("body").Text())
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

// Collapse squeezes runs of spaces and blank lines and trims every line.
func Collapse(s string) string {
	s = inlineSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		kept = append(kept, strings.TrimSpace(line))
	}
	s = strings.Join(kept, "\n")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
