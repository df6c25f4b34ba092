package convert

import (
	"bytes"
	"fmt"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MarkdownExtractor converts HTML, PDF and plain-text documents into
// markdown text. Unsupported content types are conversion failures.
type MarkdownExtractor struct{}

// NewMarkdownExtractor constructs a MarkdownExtractor.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{}
}

// Extract dispatches on the (sniffed) content type.
func (e *MarkdownExtractor) Extract(contentType string, body []byte) (string, error) {
	mediaType := sniffMediaType(contentType, body)
	switch {
	case mediaType == "application/pdf":
		return extractPDFText(body)
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return extractHTMLMarkdown(body)
	case strings.HasPrefix(mediaType, "text/"):
		return string(body), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", mediaType)
	}
}

// sniffMediaType prefers the declared header but falls back to magic-byte
// detection since the catalog's download host often omits it.
func sniffMediaType(contentType string, body []byte) string {
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil &&
			mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	switch {
	case bytes.HasPrefix(body, []byte("%PDF-")):
		return "application/pdf"
	case looksLikeHTML(body):
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
}

// extractHTMLMarkdown renders a crude markdown view of an HTML document:
// headings become #-prefixed lines, everything else is flattened text.
func extractHTMLMarkdown(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString("# " + title + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th").Each(func(_ int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			return
		}
		switch goquery.NodeName(sel) {
		case "h1":
			b.WriteString("# " + text + "\n\n")
		case "h2":
			b.WriteString("## " + text + "\n\n")
		case "h3", "h4", "h5", "h6":
			b.WriteString("### " + text + "\n\n")
		case "li":
			b.WriteString("- " + text + "\n")
		default:
			b.WriteString(text + "\n\n")
		}
	})

	out := strings.TrimSpace(b.String())
	if out == "" {
		// Fall back to whole-document text for pages without block markup.
		out = strings.Join(strings.Fields(doc.Text()), " ")
	}
	if out == "" {
		return "", fmt.Errorf("html document has no extractable text")
	}
	return out, nil
}
