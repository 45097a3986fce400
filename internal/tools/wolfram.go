package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"pkdindustries/chatbridge/internal/media"
)

// DefaultWolframEndpoint is the Wolfram|Alpha full results API.
const DefaultWolframEndpoint = "https://api.wolframalpha.com/v2/query"

var ErrNoWolframResult = errors.New("wolfram alpha returned no result")

// WolframClient talks to the Wolfram|Alpha full results API.
type WolframClient struct {
	Endpoint string
	AppID    string
	HTTP     *http.Client
}

func NewWolframClient(appID string) *WolframClient {
	return &WolframClient{
		Endpoint: DefaultWolframEndpoint,
		AppID:    appID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Query returns the raw JSON body for input, restricted to the Result pod.
func (c *WolframClient) Query(ctx context.Context, input string) ([]byte, error) {
	params := url.Values{}
	params.Set("appid", c.AppID)
	params.Set("input", input)
	params.Set("format", "plaintext")
	params.Set("includepodid", "Result")
	params.Set("units", "metric")
	params.Set("output", "JSON")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wolfram query: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read wolfram response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("wolfram query: status %d", resp.StatusCode)
	}
	return body, nil
}

// PlainResult extracts pods[0].subpods[0].plaintext from a query body.
func PlainResult(body []byte) (string, error) {
	var parsed struct {
		QueryResult struct {
			Pods []struct {
				Subpods []struct {
					Plaintext string `json:"plaintext"`
				} `json:"subpods"`
			} `json:"pods"`
		} `json:"queryresult"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode wolfram response: %w", err)
	}
	pods := parsed.QueryResult.Pods
	if len(pods) == 0 || len(pods[0].Subpods) == 0 || pods[0].Subpods[0].Plaintext == "" {
		return "", ErrNoWolframResult
	}
	return pods[0].Subpods[0].Plaintext, nil
}

// WolframTool exposes Wolfram|Alpha to the model. The raw JSON is returned
// both as the result and as an attachment.
type WolframTool struct {
	client *WolframClient
}

func NewWolframTool(client *WolframClient) *WolframTool {
	return &WolframTool{client: client}
}

func (t *WolframTool) Definition() Definition {
	return Definition{
		Name:        "wolfram-alpha",
		Description: "Get scientifically accurate computations and knowledge directly from Wolfram Alpha.",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: "The query to compute with Wolfram Alpha"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *WolframTool) HandleToolCall(ctx context.Context, args map[string]any) (*Response, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	body, err := t.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	result := string(body)
	if result == "" {
		result = "No result found"
	}
	return &Response{
		Result:      result,
		Attachments: []string{media.Encode("application/json", body)},
	}, nil
}
