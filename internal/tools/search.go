package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

const searchResultLimit = 5

// SearchResult is one hit returned to the model.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchTool queries a SearXNG instance's JSON API.
type SearchTool struct {
	origin string
	client *http.Client
}

func NewSearchTool(origin string, client *http.Client) *SearchTool {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &SearchTool{origin: strings.TrimRight(origin, "/"), client: client}
}

func (t *SearchTool) Definition() Definition {
	return Definition{
		Name:        "internet",
		Description: "Get up to date information directly from the internet.",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: "The query to search for"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchTool) HandleToolCall(ctx context.Context, args map[string]any) (*Response, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if t.origin == "" {
		return nil, fmt.Errorf("search origin is not configured")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.origin+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: status %d", resp.StatusCode)
	}

	var body struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	results := body.Results
	if len(results) > searchResultLimit {
		results = results[:searchResultLimit]
	}
	return &Response{Result: results}, nil
}
