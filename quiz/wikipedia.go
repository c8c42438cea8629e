package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fabfab/fullstack-gpt/retrieval"
)

const (
	wikiTopK     = 1
	wikiMaxChars = 4000
)

// WikipediaClient searches the MediaWiki API and returns article extracts.
type WikipediaClient struct {
	endpoint string
	client   *http.Client
}

type WikipediaOptions struct {
	Lang     string
	Endpoint string
	Timeout  time.Duration
}

func NewWikipediaClient(opts WikipediaOptions) *WikipediaClient {
	endpoint := opts.Endpoint
	if endpoint == "" {
		lang := opts.Lang
		if lang == "" {
			lang = "en"
		}
		endpoint = fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &WikipediaClient{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title  string `json:"title"`
			PageID int    `json:"pageid"`
		} `json:"search"`
	} `json:"query"`
}

type wikiExtractResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// Search returns the top article for term, its text cut to 4000 characters.
func (c *WikipediaClient) Search(ctx context.Context, term string) ([]retrieval.Document, error) {
	var search wikiSearchResponse
	if err := c.get(ctx, url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {term},
		"srlimit":  {fmt.Sprintf("%d", wikiTopK)},
		"format":   {"json"},
	}, &search); err != nil {
		return nil, fmt.Errorf("search wikipedia: %w", err)
	}

	docs := make([]retrieval.Document, 0, len(search.Query.Search))
	for _, hit := range search.Query.Search {
		var extract wikiExtractResponse
		if err := c.get(ctx, url.Values{
			"action":      {"query"},
			"prop":        {"extracts"},
			"explaintext": {"1"},
			"pageids":     {fmt.Sprintf("%d", hit.PageID)},
			"format":      {"json"},
		}, &extract); err != nil {
			return nil, fmt.Errorf("fetch wikipedia page %q: %w", hit.Title, err)
		}

		for _, page := range extract.Query.Pages {
			content := []rune(page.Extract)
			if len(content) > wikiMaxChars {
				content = content[:wikiMaxChars]
			}
			docs = append(docs, retrieval.Document{
				PageContent: string(content),
				Metadata: map[string]any{
					"title":   page.Title,
					"page_id": page.PageID,
				},
			})
		}
	}
	return docs, nil
}

func (c *WikipediaClient) get(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "fullstack-gpt/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("wikipedia returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
