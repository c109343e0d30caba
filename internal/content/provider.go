// Package content extracts the readable text of a document so it can be
// summarised.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const (
	// chromeSelectors are removed before the main content is located.
	chromeSelectors = "header, footer, nav, aside, .ad, .advertisement, .popup, .modal, .sidebar, script, style, link, [aria-hidden='true'], noscript, iframe, svg, canvas, video, audio, button, input, select, textarea"
	// mainSelectors locate the main content, first match wins.
	mainSelectors = `main, article, [role="main"], #main, #content, .main, .content, .post-body, .entry-content`

	maxDocumentSize = 5 * 1024 * 1024
	defaultTimeout  = 30 * time.Second
)

// Extraction failure reasons.
const (
	ReasonNoText   = "page contains no text"
	ReasonNoAccess = "failed to extract any content"
)

// Output formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

var whitespaceRun = regexp.MustCompile(`\s\s+`)

// ExtractionError means no text could be obtained for a document handle.
type ExtractionError struct {
	Handle string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Handle, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Handle, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Provider returns the readable text behind a document handle.
type Provider interface {
	Extract(ctx context.Context, handle string) (string, error)
}

// HTMLProvider reads HTML documents from http(s) URLs, file:// URLs or local
// paths.
type HTMLProvider struct {
	client  *http.Client
	format  string
	timeout time.Duration
}

// Option configures an HTMLProvider.
type Option func(*HTMLProvider)

// WithFormat selects FormatText (default) or FormatMarkdown.
func WithFormat(format string) Option {
	return func(p *HTMLProvider) {
		if format != "" {
			p.format = format
		}
	}
}

// WithTimeout bounds a single fetch.
func WithTimeout(d time.Duration) Option {
	return func(p *HTMLProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClient overrides the HTTP client.
func WithClient(c *http.Client) Option {
	return func(p *HTMLProvider) { p.client = c }
}

// NewHTMLProvider creates a provider.
func NewHTMLProvider(opts ...Option) *HTMLProvider {
	p := &HTMLProvider{
		client:  &http.Client{},
		format:  FormatText,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract fetches the document and returns its main text. Failures are
// *ExtractionError.
func (p *HTMLProvider) Extract(ctx context.Context, handle string) (string, error) {
	raw, err := p.read(ctx, handle)
	if err != nil {
		return "", &ExtractionError{Handle: handle, Reason: ReasonNoAccess, Err: err}
	}

	text, err := p.extract(raw)
	if err != nil {
		return "", &ExtractionError{Handle: handle, Reason: ReasonNoAccess, Err: err}
	}
	if text == "" {
		return "", &ExtractionError{Handle: handle, Reason: ReasonNoText}
	}
	return text, nil
}

func (p *HTMLProvider) read(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", errors.New("empty document handle")
	}

	u, err := url.Parse(handle)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return p.fetch(ctx, handle)
		case "file":
			return readFile(u.Path)
		}
	}
	return readFile(handle)
}

func (p *HTMLProvider) fetch(ctx context.Context, target string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; lmworker)")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxDocumentSize {
		return "", errors.New("document too large (exceeds 5MB limit)")
	}
	return string(body), nil
}

func readFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxDocumentSize {
		return "", errors.New("document too large (exceeds 5MB limit)")
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

// extract applies the primary strategy and falls back to the whole body.
func (p *HTMLProvider) extract(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	body := doc.Find("body")
	fallback := collapse(body.Text())

	cleaned := body.Clone()
	cleaned.Find(chromeSelectors).Remove()
	main := cleaned.Find(mainSelectors).First()
	if main.Length() == 0 {
		main = cleaned
	}

	var text string
	if p.format == FormatMarkdown {
		html, err := goquery.OuterHtml(main)
		if err == nil {
			text, err = toMarkdown(html)
		}
		if err != nil {
			text = ""
		}
	} else {
		text = collapse(main.Text())
	}

	if text == "" {
		return fallback, nil
	}
	return text, nil
}

// collapse replaces every run of two or more whitespace characters with a
// single space and trims the result.
func collapse(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func toMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")

	out, err := converter.ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
