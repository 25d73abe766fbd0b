package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/cognicore/cellar/pkg/cellar/internalerr"
)

// maxPageBytes caps scraped pages.
const maxPageBytes = 5 << 20

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.Td: true, atom.Th: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Section: true,
	atom.Article: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Dt: true, atom.Dd: true, atom.Header: true, atom.Footer: true,
}

var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Head: true,
	atom.Nav: true, atom.Template: true, atom.Svg: true,
}

// HTMLToLines extracts the visible text of a wine-list page, one line per
// block element.
func HTMLToLines(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w: %v", internalerr.ErrInvalidInput, err)
	}

	var buf strings.Builder
	var extractText func(*html.Node)
	extractText = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.DataAtom] {
				return
			}
			if blockElements[n.DataAtom] {
				buf.WriteByte('\n')
				defer buf.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
	}
	extractText(doc)

	var lines []string
	for _, line := range SplitLines(buf.String()) {
		// collapse inline whitespace from indentation inside a block
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// FetchLines downloads a page and converts it with HTMLToLines.
func FetchLines(ctx context.Context, client *http.Client, url string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w: %v", url, internalerr.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", "cellar-ingest/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w: %v", url, internalerr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scrape %s: %w: status %d", url, internalerr.ErrUpstream, resp.StatusCode)
	}
	return HTMLToLines(io.LimitReader(resp.Body, maxPageBytes))
}
