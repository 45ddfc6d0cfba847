package batch

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/cache"
	"github.com/rendercove/prerender/internal/common/config"
)

// sitemapDocument matches both document shapes the sitemaps.org schema
// defines: a <sitemapindex> with <sitemap><loc> children referencing
// further sitemaps, and a <urlset> with <url><loc> page entries. Elements
// outside the sitemaps.org namespace are ignored.
type sitemapDocument struct {
	XMLName  xml.Name
	Sitemaps []locEntry `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 sitemap"`
	URLs     []locEntry `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 url"`
}

type locEntry struct {
	Loc string `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 loc"`
}

// SitemapFetcher expands a sitemap URL (possibly a sitemap index) into a
// flat ordered URL list. Expansion is bounded two ways: a visited set
// dedupes sitemap URLs so an index that references itself (directly or
// through children) is skipped instead of recursing forever, and a depth
// limit caps how deep nested indexes may go. Child sitemaps that cannot
// be fetched or parsed contribute zero URLs without failing the parent.
type SitemapFetcher struct {
	client   *fasthttp.Client
	timeout  time.Duration
	maxDepth int
	maxURLs  int
	logger   *zap.Logger
}

// NewSitemapFetcher creates a fetcher using the batch config's sitemap
// timeout, depth and URL-count bounds.
func NewSitemapFetcher(cfg *config.BatchConfig, logger *zap.Logger) *SitemapFetcher {
	timeout := time.Duration(cfg.SitemapTimeout)
	return &SitemapFetcher{
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		timeout:  timeout,
		maxDepth: cfg.MaxSitemapDepth,
		maxURLs:  cfg.MaxURLs,
		logger:   logger,
	}
}

// Fetch retrieves and expands the sitemap at sitemapURL. Only the
// top-level fetch/parse can fail the call; nested sitemap errors are
// logged and skipped.
func (f *SitemapFetcher) Fetch(sitemapURL string) ([]string, error) {
	visited := make(map[string]bool)
	urls, err := f.fetch(sitemapURL, 1, visited)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Sitemap expanded",
		zap.String("sitemap_url", sitemapURL),
		zap.Int("url_count", len(urls)),
		zap.Int("sitemaps_visited", len(visited)))
	return urls, nil
}

func (f *SitemapFetcher) fetch(sitemapURL string, depth int, visited map[string]bool) ([]string, error) {
	visited[normalizeSitemapURL(sitemapURL)] = true

	body, err := f.get(sitemapURL)
	if err != nil {
		return nil, err
	}

	var doc sitemapDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid sitemap XML: %w", err)
	}

	// Sitemap index: recurse into each child sitemap.
	if len(doc.Sitemaps) > 0 {
		var urls []string
		for _, entry := range doc.Sitemaps {
			childURL := strings.TrimSpace(entry.Loc)
			if childURL == "" {
				continue
			}
			if visited[normalizeSitemapURL(childURL)] {
				f.logger.Warn("Sitemap cycle skipped",
					zap.String("sitemap_url", childURL))
				continue
			}
			if depth >= f.maxDepth {
				f.logger.Warn("Sitemap depth limit reached, child skipped",
					zap.String("sitemap_url", childURL),
					zap.Int("max_depth", f.maxDepth))
				continue
			}

			childURLs, err := f.fetch(childURL, depth+1, visited)
			if err != nil {
				f.logger.Warn("Child sitemap skipped",
					zap.String("sitemap_url", childURL),
					zap.Error(err))
				continue
			}
			urls = append(urls, childURLs...)
			if len(urls) >= f.maxURLs {
				f.logger.Warn("Sitemap URL cap reached",
					zap.Int("max_urls", f.maxURLs))
				return urls[:f.maxURLs], nil
			}
		}
		return urls, nil
	}

	// Plain sitemap: collect page URLs.
	urls := make([]string, 0, len(doc.URLs))
	for _, entry := range doc.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		urls = append(urls, loc)
		if len(urls) >= f.maxURLs {
			f.logger.Warn("Sitemap URL cap reached",
				zap.Int("max_urls", f.maxURLs))
			break
		}
	}
	return urls, nil
}

func (f *SitemapFetcher) get(url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := f.client.DoTimeout(req, resp, f.timeout); err != nil {
		return nil, fmt.Errorf("sitemap fetch failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK {
		return nil, fmt.Errorf("sitemap fetch returned status %d", statusCode)
	}

	// Body() is reused by fasthttp after release; copy it out.
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

// normalizeSitemapURL canonicalizes a sitemap URL for the visited set so
// trivially different spellings of the same sitemap still dedupe.
func normalizeSitemapURL(rawURL string) string {
	normalized, err := cache.NormalizeURL(rawURL)
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	return normalized
}

// ParseURLList extracts URLs from newline-delimited text: lines are
// trimmed and only http/https-prefixed ones are kept.
func ParseURLList(text string) []string {
	var urls []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, "http") {
			urls = append(urls, line)
		}
	}
	return urls
}
