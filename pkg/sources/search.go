package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultSearchResults is how many results a search returns.
const DefaultSearchResults = 5

// SearchResult mirrors one web hit.
type SearchResult struct {
	Title string `json:"title"`
	Href  string `json:"href"`
	Body  string `json:"body"`
}

// SearchReport is the payload served by GET /api/search.
type SearchReport struct {
	Query       string         `json:"query"`
	RetrievedAt time.Time      `json:"retrieved_at"`
	Results     []SearchResult `json:"results"`
}

// Search queries the DuckDuckGo instant answer API.
type Search struct {
	baseURL    string
	maxResults int
	client     *http.Client
	now        func() time.Time
}

func NewSearch(baseURL string, maxResults int) *Search {
	if maxResults <= 0 {
		maxResults = DefaultSearchResults
	}
	return &Search{
		baseURL:    baseURL,
		maxResults: maxResults,
		client:     newHTTPClient(TimeoutStandard),
		now:        time.Now,
	}
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Name     string     `json:"Name"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Results       []ddgTopic `json:"Results"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Query runs one search. An empty result list is not an error.
func (s *Search) Query(ctx context.Context, query string) (*SearchReport, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("sources.Search: empty query")
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	var resp ddgResponse
	if err := getJSON(ctx, s.client, s.baseURL+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("sources.Search: %w", err)
	}
	return &SearchReport{
		Query:       query,
		RetrievedAt: s.now().UTC(),
		Results:     s.collect(resp),
	}, nil
}

func (s *Search) collect(resp ddgResponse) []SearchResult {
	out := make([]SearchResult, 0, s.maxResults)
	seen := make(map[string]bool)
	add := func(title, href, body string) {
		if len(out) >= s.maxResults || href == "" || seen[href] {
			return
		}
		seen[href] = true
		out = append(out, SearchResult{Title: title, Href: href, Body: body})
	}

	if resp.AbstractText != "" {
		add(resp.Heading, resp.AbstractURL, resp.AbstractText)
	}
	var walk func(topics []ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			title, body := splitTopic(t.Text)
			add(title, t.FirstURL, body)
		}
	}
	walk(resp.Results)
	walk(resp.RelatedTopics)
	return out
}

// splitTopic separates "Title - description" topic text.
func splitTopic(text string) (title, body string) {
	if i := strings.Index(text, " - "); i > 0 {
		return text[:i], text[i+3:]
	}
	return text, text
}
