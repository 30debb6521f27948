package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const duckDuckGoURL = "https://api.duckduckgo.com/"

const noResults = "No web results found."

// DuckDuckGo searches through the DuckDuckGo Instant Answer API.
type DuckDuckGo struct {
	baseURL    string
	httpClient *http.Client
}

// NewDuckDuckGo creates a searcher against the public endpoint.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		baseURL: duckDuckGoURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithBaseURL points the searcher at another endpoint.
func (d *DuckDuckGo) WithBaseURL(u string) *DuckDuckGo {
	d.baseURL = u
	return d
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	Answer        string     `json:"Answer"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Definition    string     `json:"Definition"`
	DefinitionURL string     `json:"DefinitionURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Quick returns the instant answer, abstract or definition, else the first
// related topic.
func (d *DuckDuckGo) Quick(ctx context.Context, query string) (string, error) {
	resp, err := d.query(ctx, query)
	if err != nil {
		return "", err
	}

	switch {
	case resp.Answer != "":
		return resp.Answer, nil
	case resp.AbstractText != "":
		return withSource(resp.AbstractText, resp.AbstractURL), nil
	case resp.Definition != "":
		return withSource(resp.Definition, resp.DefinitionURL), nil
	}
	if topics := flatten(resp.RelatedTopics); len(topics) > 0 {
		return withSource(topics[0].Text, topics[0].FirstURL), nil
	}
	return noResults, nil
}

// Results lists up to n results, the abstract first when there is one.
func (d *DuckDuckGo) Results(ctx context.Context, query string, n int) (string, error) {
	resp, err := d.query(ctx, query)
	if err != nil {
		return "", err
	}

	var lines []string
	if resp.AbstractText != "" {
		title := resp.Heading
		if title == "" {
			title = query
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", title, withSource(resp.AbstractText, resp.AbstractURL)))
	}
	for _, t := range flatten(resp.RelatedTopics) {
		if len(lines) >= n {
			break
		}
		lines = append(lines, "- "+withSource(t.Text, t.FirstURL))
	}
	if len(lines) == 0 {
		return noResults, nil
	}
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n"), nil
}

func (d *DuckDuckGo) query(ctx context.Context, query string) (*ddgResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("web search: create request: %w", err)
	}
	req.Header.Set("User-Agent", "medrag")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("web search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("web search: decode response: %w", err)
	}
	return &out, nil
}

// flatten expands topic groups into their member topics.
func flatten(topics []ddgTopic) []ddgTopic {
	var out []ddgTopic
	for _, t := range topics {
		if len(t.Topics) > 0 {
			out = append(out, flatten(t.Topics)...)
			continue
		}
		if t.Text != "" {
			out = append(out, t)
		}
	}
	return out
}

func withSource(text, source string) string {
	if source == "" {
		return text
	}
	return fmt.Sprintf("%s (%s)", text, source)
}
