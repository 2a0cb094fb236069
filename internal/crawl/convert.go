package crawl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Converter turns raw HTML into markdown.
type Converter interface {
	Convert(html, pageURL string) (markdown string, title string, err error)
}

// ReadabilityConverter extracts the article with go-readability and renders
// its DOM as markdown. Pages readability cannot parse fall back to a direct
// render of the body.
type ReadabilityConverter struct{}

// NewConverter returns the default converter.
func NewConverter() *ReadabilityConverter {
	return &ReadabilityConverter{}
}

// Convert implements Converter.
func (c *ReadabilityConverter) Convert(html, pageURL string) (string, string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		md, mdErr := renderMarkdown(article.Content)
		if mdErr == nil && strings.TrimSpace(md) != "" {
			return md, article.Title, nil
		}
	}

	// Readability found no article; render the whole body.
	md, mdErr := renderMarkdown(html)
	if mdErr != nil {
		return "", "", fmt.Errorf("convert html: %w", mdErr)
	}
	title := ""
	if err == nil {
		title = article.Title
	}
	return md, title, nil
}

// renderMarkdown walks the DOM and emits a plain markdown rendering:
// headings, paragraphs, lists, links, images, code. Scripts, styles, and
// hidden elements are dropped.
func renderMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find(hiddenSelector).Remove()

	var b strings.Builder
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	renderNodes(&b, root)

	out := strings.TrimSpace(b.String())
	// Collapse runs of blank lines left behind by structural elements.
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return out, nil
}

func renderNodes(b *strings.Builder, sel *goquery.Selection) {
	sel.Children().Each(func(_ int, child *goquery.Selection) {
		tag := goquery.NodeName(child)
		switch tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(tag[1] - '0')
			b.WriteString("\n" + strings.Repeat("#", level) + " " + inlineText(child) + "\n\n")
		case "p":
			if text := inlineText(child); text != "" {
				b.WriteString(text + "\n\n")
			}
		case "ul", "ol":
			child.Children().Each(func(i int, li *goquery.Selection) {
				marker := "-"
				if tag == "ol" {
					marker = fmt.Sprintf("%d.", i+1)
				}
				if text := inlineText(li); text != "" {
					b.WriteString(marker + " " + text + "\n")
				}
			})
			b.WriteString("\n")
		case "pre":
			b.WriteString("```\n" + strings.TrimSpace(child.Text()) + "\n```\n\n")
		case "blockquote":
			if text := inlineText(child); text != "" {
				b.WriteString("> " + text + "\n\n")
			}
		case "img":
			if src, ok := child.Attr("src"); ok {
				alt, _ := child.Attr("alt")
				b.WriteString(fmt.Sprintf("![%s](%s)\n\n", alt, src))
			}
		case "table":
			// Tables degrade to their row text.
			child.Find("tr").Each(func(_ int, tr *goquery.Selection) {
				var cells []string
				tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
					cells = append(cells, inlineText(cell))
				})
				if len(cells) > 0 {
					b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
				}
			})
			b.WriteString("\n")
		default:
			if child.Children().Length() > 0 {
				renderNodes(b, child)
			} else if text := inlineText(child); text != "" {
				b.WriteString(text + "\n\n")
			}
		}
	})
}

// inlineText renders a node's text with anchors as markdown links.
func inlineText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		text := strings.TrimSpace(a.Text())
		if ok && text != "" && strings.HasPrefix(href, "http") {
			a.ReplaceWithHtml(fmt.Sprintf("[%s](%s)", text, href))
		}
	})
	return strings.Join(strings.Fields(clone.Text()), " ")
}
