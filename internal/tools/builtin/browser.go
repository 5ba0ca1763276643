// Package builtin ships the toolkits every deployment carries: the
// web_browser fetch-and-extract tool. The end_run sentinel lives in the
// tools package itself.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/loomworks/loom/internal/tools"
)

// WebBrowserToolkit is the toolkit name agents enable for web fetching.
const WebBrowserToolkit = "web_browser"

const defaultMaxChars = 10000

// BrowserConfig tunes the web_browser tool.
type BrowserConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string

	// AllowPrivateHosts disables the private-address guard. Tests only.
	AllowPrivateHosts bool
}

// WebBrowser fetches a URL and extracts its readable text content.
type WebBrowser struct {
	client *http.Client
	config BrowserConfig
}

// NewWebBrowser creates the tool with defaults applied.
func NewWebBrowser(config BrowserConfig) *WebBrowser {
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 2 << 20
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; loom/1.0)"
	}
	return &WebBrowser{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

// Toolkit wraps the tool as a registrable toolkit.
func (t *WebBrowser) Toolkit() tools.Toolkit {
	return tools.Toolkit{Name: WebBrowserToolkit, Tools: []tools.Tool{t}}
}

func (t *WebBrowser) Name() string { return "web_browser" }

func (t *WebBrowser) Description() string {
	return "Fetch a web page and extract its readable text content. Use for reading articles, documentation, and other pages."
}

type webBrowserParams struct {
	URL      string `json:"url" jsonschema:"description=URL to fetch (http or https only)"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"description=Maximum characters of extracted text to return"`
}

func (t *WebBrowser) Schema() json.RawMessage {
	return tools.SchemaFor(&webBrowserParams{})
}

type webBrowserResult struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (t *WebBrowser) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	var params webBrowserParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if !t.config.AllowPrivateHosts {
		if err := guardURL(params.URL); err != nil {
			return nil, err
		}
	}

	title, content, err := t.fetch(ctx, params.URL)
	if err != nil {
		return nil, err
	}

	limit := t.config.maxChars(params.MaxChars)
	truncated := false
	if limit > 0 && len(content) > limit {
		content = content[:limit] + "..."
		truncated = true
	}

	return &tools.Result{
		Value: webBrowserResult{
			URL:       params.URL,
			Title:     title,
			Content:   content,
			Truncated: truncated,
		},
		ResultsString: content,
	}, nil
}

func (c BrowserConfig) maxChars(requested int) int {
	if requested > 0 && requested < defaultMaxChars {
		return requested
	}
	return defaultMaxChars
}

func (t *WebBrowser) fetch(ctx context.Context, rawURL string) (title, content string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", t.config.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxBodyBytes))
	if err != nil {
		return "", "", fmt.Errorf("read failed: %w", err)
	}

	parsed, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Title, strings.TrimSpace(article.TextContent), nil
	}

	// Extraction failed; fall back to the raw body so the model still
	// gets something to work with.
	return "", strings.TrimSpace(string(body)), nil
}

// guardURL blocks non-HTTP schemes and hosts that resolve to private or
// reserved addresses.
func guardURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable here may still resolve behind a proxy; let the
		// fetch decide.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReserved(ip) {
			return fmt.Errorf("URL resolves to a private or reserved address")
		}
	}
	return nil
}

func isPrivateOrReserved(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}
