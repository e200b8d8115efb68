package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/metrics"
	"github.com/copysentry/backend/pkg/config"
	"github.com/copysentry/backend/pkg/logger"
)

// Provider discovers candidate copies of a protected item across
// marketplace and social platforms. SerpAPI is used when a key is
// configured; otherwise results come from scraping a plain image
// search page.
type Provider struct {
	serpAPIKey string
	maxResults int
	platforms  []string
	httpClient *http.Client
}

func NewProvider(cfg config.SearchConfig) *Provider {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	return &Provider{
		serpAPIKey: cfg.SerpAPIKey,
		maxResults: maxResults,
		platforms:  cfg.Platforms,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Discover runs one platform-scoped query per configured platform and
// merges the results, deduplicated by URL.
func (p *Provider) Discover(ctx context.Context, content *domain.ProtectedContent) ([]domain.Candidate, error) {
	logger.Info("Discovering candidates",
		zap.String("content_id", content.ID),
		zap.Strings("platforms", p.platforms))

	seen := make(map[string]bool)
	candidates := make([]domain.Candidate, 0, p.maxResults)

	for _, platform := range p.platforms {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}

		query := p.buildQuery(content, platform)
		results, err := p.search(ctx, query)
		if err != nil {
			logger.Warn("Platform search failed",
				zap.String("platform", platform), zap.Error(err))
			continue
		}

		for _, r := range results {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			candidates = append(candidates, domain.Candidate{
				URL:      r.URL,
				Title:    r.Title,
				Platform: platform,
			})
		}
	}

	metrics.SearchResults.Observe(float64(len(candidates)))
	logger.Info("Discovery completed",
		zap.String("content_id", content.ID),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

func (p *Provider) buildQuery(content *domain.ProtectedContent, platform string) string {
	terms := content.Title
	if content.Description != "" {
		terms = terms + " " + content.Description
	}
	return fmt.Sprintf("site:%s.com %s", platform, strings.TrimSpace(terms))
}

type searchResult struct {
	Title string
	URL   string
}

func (p *Provider) search(ctx context.Context, query string) ([]searchResult, error) {
	if p.serpAPIKey != "" {
		return p.searchWithSerpAPI(ctx, query)
	}
	return p.searchWithScrape(ctx, query)
}

func (p *Provider) searchWithSerpAPI(ctx context.Context, query string) ([]searchResult, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", p.serpAPIKey)
	params.Add("num", fmt.Sprintf("%d", p.maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://serpapi.com/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title string `json:"title"`
			Link  string `json:"link"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]searchResult, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		if r.Link == "" {
			continue
		}
		results = append(results, searchResult{Title: r.Title, URL: r.Link})
	}

	return results, nil
}

func (p *Provider) searchWithScrape(ctx context.Context, query string) ([]searchResult, error) {
	searchURL := fmt.Sprintf("https://www.google.com/search?q=%s&tbm=isch&num=%d",
		url.QueryEscape(query), p.maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	results := make([]searchResult, 0)
	doc.Find("div.g").Each(func(i int, s *goquery.Selection) {
		if i >= p.maxResults {
			return
		}
		title := s.Find("h3").Text()
		link, _ := s.Find("a").Attr("href")
		if title != "" && link != "" {
			results = append(results, searchResult{Title: title, URL: link})
		}
	})

	return results, nil
}

// PlatformFromURL maps a candidate URL back to a known platform name.
// Unknown hosts report "web".
func PlatformFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "web"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, platform := range []string{"instagram", "facebook", "pinterest", "etsy", "ebay", "twitter", "tiktok"} {
		if host == platform+".com" || strings.HasSuffix(host, "."+platform+".com") {
			return platform
		}
	}
	return "web"
}
