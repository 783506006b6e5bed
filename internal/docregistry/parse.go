package docregistry

import (
	"context"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// Parsed is the outcome of turning a fetched document into plain text.
type Parsed struct {
	Title string
	Text  string
}

// Parser turns raw fetched bytes into a title + stripped text. PDF
// extraction is delegated to an external collaborator per §4.8; Parser only
// owns the HTML and plain-text paths directly.
type Parser interface {
	Parse(ctx context.Context, sourceURL, contentType string, raw []byte) (Parsed, error)
}

// PDFParser is the narrow capability a caller-supplied PDF extractor must
// provide. nil means PDFs are stored as opaque raw text.
type PDFParser interface {
	ExtractText(ctx context.Context, raw []byte) (string, error)
}

type documentParser struct {
	pdf PDFParser
}

// NewParser builds the default Parser. pdf may be nil.
func NewParser(pdf PDFParser) Parser {
	return &documentParser{pdf: pdf}
}

func (p *documentParser) Parse(ctx context.Context, sourceURL, contentType string, raw []byte) (Parsed, error) {
	switch {
	case strings.Contains(contentType, "pdf") || strings.HasSuffix(strings.ToLower(sourceURL), ".pdf"):
		if p.pdf == nil {
			return Parsed{Text: string(raw)}, nil
		}
		text, err := p.pdf.ExtractText(ctx, raw)
		if err != nil {
			return Parsed{}, err
		}
		return Parsed{Text: text}, nil

	case strings.Contains(contentType, "html") || looksLikeHTML(raw):
		return parseHTML(sourceURL, raw)

	default:
		return Parsed{Text: string(raw)}, nil
	}
}

func looksLikeHTML(raw []byte) bool {
	head := strings.ToLower(string(raw[:min(512, len(raw))]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

func parseHTML(sourceURL string, raw []byte) (Parsed, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(string(raw)), parsed)
	if err != nil {
		md, mdErr := htmltomarkdown.ConvertString(string(raw))
		if mdErr != nil {
			return Parsed{}, err
		}
		return Parsed{Text: md}, nil
	}

	md, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return Parsed{Title: article.Title, Text: article.TextContent}, nil
	}
	return Parsed{Title: article.Title, Text: md}, nil
}
