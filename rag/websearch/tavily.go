package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTavilyEndpoint = "https://api.tavily.com/search"

// TavilyProvider calls the Tavily search API.
type TavilyProvider struct {
	APIKey   string
	Endpoint string
	// Depth controls Tavily's search_depth parameter (basic or advanced).
	Depth string

	client    *http.Client
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewTavilyProvider constructs a Tavily search provider.
// A nil client gets a 15s timeout client.
func NewTavilyProvider(apiKey, endpoint string, client *http.Client) *TavilyProvider {
	if endpoint == "" {
		endpoint = defaultTavilyEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TavilyProvider{
		APIKey:   apiKey,
		Endpoint: endpoint,
		Depth:    "advanced",
		client:    client,
		baseDelay: 1 * time.Second,
		maxDelay:  30 * time.Second,
	}
}

func (t *TavilyProvider) Name() string { return "tavily" }

// Search posts a query to Tavily and returns the raw response body.
func (t *TavilyProvider) Search(ctx context.Context, query string, opts SearchOptions) (json.RawMessage, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}

	body := map[string]any{
		"query":        query,
		"api_key":      t.APIKey,
		"search_depth": t.Depth,
		"topic":        "finance",
	}
	if opts.MaxResults > 0 {
		body["max_results"] = opts.MaxResults
	}
	if len(opts.AllowedDomains) > 0 {
		body["include_domains"] = opts.AllowedDomains
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	delay := t.baseDelay
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		// 429 退避, 每次翻倍, 上限 maxDelay
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < t.maxDelay {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tavily: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}
	return json.RawMessage(data), nil
}
