package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxTableColWidth = 30
	maxTableRows     = 10
)

var scriptStyleSvgRegex = regexp.MustCompile(`(?is)<(script|style|svg)[^>]*>.*?</(script|style|svg)>`)
var tagStripRegex = regexp.MustCompile(`(?s)<[^>]+>`)

// HTMLToText parses body with a tolerant HTML parser and renders compact
// plain text, per spec §4.1 "HTML → text". plainFallback is the driver's
// plain-text body, if any, used when the HTML parse fails entirely.
func HTMLToText(html, plainFallback string) (text string, usedFallback bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		if plainFallback != "" {
			return plainFallback, true
		}
		return tagStripRegex.ReplaceAllString(scriptStyleSvgRegex.ReplaceAllString(html, ""), ""), true
	}

	doc.Find("script, style, svg").Remove()
	removeTrackingPixels(doc)
	removeHidden(doc)

	var b strings.Builder
	renderNode(doc.Selection, &b)
	return collapseBlankLines(b.String()), false
}

func removeTrackingPixels(doc *goquery.Document) {
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		width, _ := s.Attr("width")
		height, _ := s.Attr("height")
		src, _ := s.Attr("src")
		if width == "1" || height == "1" || strings.HasPrefix(src, "cid:") {
			s.Remove()
		}
	})
}

func removeHidden(doc *goquery.Document) {
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		style, ok := s.Attr("style")
		if !ok {
			return
		}
		normalized := strings.ToLower(strings.ReplaceAll(style, " ", ""))
		if strings.Contains(normalized, "display:none") || strings.Contains(normalized, "visibility:hidden") {
			s.Remove()
		}
	})
}

// renderNode walks the DOM emitting compact plain text: lists become
// markdown-style bullets/numbers, tables become pipe-delimited rows capped
// per spec §4.1.
func renderNode(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			b.WriteString(child.Text())
			return
		}
		switch goquery.NodeName(child) {
		case "br":
			b.WriteString("\n")
		case "p", "div":
			renderNode(child, b)
			b.WriteString("\n")
		case "ul":
			child.Find("li").Each(func(_ int, li *goquery.Selection) {
				b.WriteString("- " + strings.TrimSpace(li.Text()) + "\n")
			})
		case "ol":
			n := 1
			child.Find("li").Each(func(_ int, li *goquery.Selection) {
				b.WriteString(fmt.Sprintf("%d. %s\n", n, strings.TrimSpace(li.Text())))
				n++
			})
		case "table":
			renderTable(child, b)
		default:
			renderNode(child, b)
		}
	})
}

func renderTable(table *goquery.Selection, b *strings.Builder) {
	rows := table.Find("tr")
	rowCount := rows.Length()
	limit := rowCount
	truncated := false
	if limit > maxTableRows {
		limit = maxTableRows
		truncated = true
	}
	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		var cells []string
		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if len(text) > maxTableColWidth {
				text = text[:maxTableColWidth]
			}
			cells = append(cells, text)
		})
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		return true
	})
	if truncated {
		fmt.Fprintf(b, "... (%d more rows)\n", rowCount-limit)
	}
}

var blankLineRegex = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	return blankLineRegex.ReplaceAllString(s, "\n\n")
}
