package nest

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

// Format is an output representation of a composed document.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts "html", "markdown" and "md". Empty means HTML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "html":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("nest: unknown format %q", s)
}

var (
	mdOnce sync.Once
	mdConv *converter.Converter
)

func markdownConverter() *converter.Converter {
	mdOnce.Do(func() {
		mdConv = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	return mdConv
}

// Render writes doc in the given format. pageURL, when set, makes relative
// links absolute in Markdown output.
func Render(w io.Writer, doc *html.Node, format Format, pageURL string) error {
	switch format {
	case FormatHTML, "":
		if err := html.Render(w, doc); err != nil {
			return fmt.Errorf("nest: render html: %w", err)
		}
		return nil
	case FormatMarkdown:
		var buf bytes.Buffer
		if err := html.Render(&buf, doc); err != nil {
			return fmt.Errorf("nest: render html: %w", err)
		}
		md, err := markdownConverter().ConvertString(buf.String(), converter.WithDomain(pageURL))
		if err != nil {
			return fmt.Errorf("nest: render markdown: %w", err)
		}
		_, err = io.WriteString(w, md)
		return err
	}
	return fmt.Errorf("nest: unknown format %q", format)
}

// RenderString is Render into a string.
func RenderString(doc *html.Node, format Format, pageURL string) (string, error) {
	var sb strings.Builder
	if err := Render(&sb, doc, format, pageURL); err != nil {
		return "", err
	}
	return sb.String(), nil
}
