// Package brief turns a project brief file (text, Markdown, HTML or PDF) into
// prompt text.
package brief

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pdfx "github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

var ErrUnsupported = errors.New("unsupported brief type; provide PDF, HTML or text")

type Limits struct {
	MaxBytes int           `yaml:"max_bytes"`
	MaxPages int           `yaml:"max_pages"`
	Pages    string        `yaml:"pages"` // e.g. "1-3,7"; empty means all
	Timeout  time.Duration `yaml:"timeout"`
}

func DefaultLimits() Limits {
	return Limits{MaxBytes: 20 * 1024 * 1024, MaxPages: 20, Timeout: time.Minute}
}

type Brief struct {
	Text  string `json:"text"`
	Kind  string `json:"kind"`
	Pages int    `json:"pages,omitempty"`
	Bytes int    `json:"bytes"`
}

// Load reads and extracts the brief at path. An http or https URL is
// fetched instead.
func Load(ctx context.Context, path string, lim Limits) (Brief, error) {
	if isURL(path) {
		return Fetch(ctx, path, lim)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Brief{}, fmt.Errorf("failed to stat brief: %w", err)
	}
	if lim.MaxBytes > 0 && info.Size() > int64(lim.MaxBytes) {
		return Brief{}, fmt.Errorf("brief too large: %d bytes > limit %d", info.Size(), lim.MaxBytes)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Brief{}, fmt.Errorf("failed to read brief: %w", err)
	}
	return Extract(ctx, buf, filepath.Base(path), "", lim)
}

// DecodeBase64 accepts plain base64 or a data: URL.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ","); i != -1 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	buf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return buf, nil
}

// Extract converts buf to text, choosing the format from magic bytes, the
// filename extension and the content type.
func Extract(ctx context.Context, buf []byte, filename, contentType string, lim Limits) (Brief, error) {
	if lim.MaxBytes > 0 && len(buf) > lim.MaxBytes {
		return Brief{}, fmt.Errorf("brief too large: %d bytes > limit %d", len(buf), lim.MaxBytes)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	ctype := strings.ToLower(contentType)

	if bytes.HasPrefix(buf, []byte("%PDF-")) || ext == "pdf" || strings.Contains(ctype, "pdf") {
		text, pages, err := pdfText(ctx, buf, lim)
		if err != nil {
			return Brief{}, err
		}
		return Brief{Text: text, Kind: "pdf", Pages: pages, Bytes: len(buf)}, nil
	}

	looksHTML := ext == "html" || ext == "htm" || strings.Contains(ctype, "html")
	if !looksHTML && ext == "" {
		s := strings.ToLower(string(buf))
		looksHTML = strings.Contains(s, "<html") || strings.Contains(s, "<body")
	}
	if looksHTML {
		text, err := htmlText(buf)
		if err != nil {
			return Brief{}, err
		}
		return Brief{Text: text, Kind: "html", Bytes: len(buf)}, nil
	}

	switch ext {
	case "", "txt", "md", "markdown", "csv", "json", "yaml", "yml":
		return Brief{Text: strings.TrimSpace(string(buf)), Kind: "text", Bytes: len(buf)}, nil
	}
	if strings.HasPrefix(ctype, "text/") {
		return Brief{Text: strings.TrimSpace(string(buf)), Kind: "text", Bytes: len(buf)}, nil
	}
	return Brief{}, ErrUnsupported
}

func pdfText(ctx context.Context, buf []byte, lim Limits) (string, int, error) {
	if lim.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lim.Timeout)
		defer cancel()
	}
	r, err := pdfx.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open pdf: %w", err)
	}
	total := r.NumPage()
	selected := expandPages(lim.Pages, total)
	if len(selected) == 0 {
		for i := 1; i <= total; i++ {
			selected = append(selected, i)
		}
	}
	if lim.MaxPages > 0 && len(selected) > lim.MaxPages {
		selected = selected[:lim.MaxPages]
	}

	var out strings.Builder
	for _, n := range selected {
		if err := ctx.Err(); err != nil {
			return "", 0, fmt.Errorf("pdf extraction stopped: %w", err)
		}
		p := r.Page(n)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if t := strings.TrimSpace(txt); t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(out.String()), len(selected), nil
}

// expandPages parses a page list such as "1-3,7" into page numbers within
// [1, total], without duplicates.
func expandPages(list string, total int) []int {
	var out []int
	list = strings.TrimSpace(list)
	if list == "" {
		return out
	}
	seen := map[int]struct{}{}
	add := func(n int) {
		if n < 1 || n > total {
			return
		}
		if _, ok := seen[n]; !ok {
			out = append(out, n)
			seen[n] = struct{}{}
		}
	}
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(p, "-"); ok {
			a, _ := strconv.Atoi(strings.TrimSpace(lo))
			b, _ := strconv.Atoi(strings.TrimSpace(hi))
			if a > b {
				a, b = b, a
			}
			for i := a; i <= b; i++ {
				add(i)
			}
			continue
		}
		n, _ := strconv.Atoi(p)
		add(n)
	}
	return out
}

func htmlText(buf []byte) (string, error) {
	node, err := html.Parse(bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	var b strings.Builder
	extractText(node, &b, false)
	return compactWhitespace(b.String()), nil
}

func extractText(n *html.Node, b *strings.Builder, hidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "template":
			hidden = true
		case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
			b.WriteString("\n")
		}
	}
	if !hidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b, hidden)
	}
}

// compactWhitespace collapses runs of blanks within lines and drops empty
// lines.
func compactWhitespace(s string) string {
	var out []string
	for _, ln := range strings.Split(strings.ReplaceAll(s, "\r", ""), "\n") {
		if ln = strings.Join(strings.Fields(ln), " "); ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}
