package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RowFetcher is implemented by *Client and can be replaced in tests.
type RowFetcher interface {
	FetchRows(ctx context.Context, query Query) ([]json.RawMessage, error)
}

// Ensure Client implements RowFetcher at compile time.
var _ RowFetcher = (*Client)(nil)

// Client reads rows from the platform's PostgREST endpoint.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	apiKey    string
	userAgent string
}

const (
	restPrefix       = "/rest/v1/"
	defaultUserAgent = "feedwatch/0.1"
	requestTimeout   = 10 * time.Second
	maxErrorBody     = 512
)

// NewClient builds a Client for the project URL, e.g.
// "https://abc.example.co".
func NewClient(baseURL, apiKey string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		apiKey:    strings.TrimSpace(apiKey),
		userAgent: defaultUserAgent,
	}, nil
}

// Query selects rows from one table.
type Query struct {
	Table  string
	Select string
	Order  string
	Limit  int
	// Filters maps column to a PostgREST operator expression such as
	// "eq.open" or "in.(a,b)".
	Filters map[string]string
}

// FetchRows runs query and returns the raw JSON rows.
func (c *Client) FetchRows(ctx context.Context, query Query) ([]json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	table := strings.TrimSpace(query.Table)
	if table == "" {
		return nil, fmt.Errorf("table required")
	}

	values := url.Values{}
	sel := strings.TrimSpace(query.Select)
	if sel == "" {
		sel = "*"
	}
	values.Set("select", sel)
	if order := strings.TrimSpace(query.Order); order != "" {
		values.Set("order", order)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	columns := make([]string, 0, len(query.Filters))
	for col := range query.Filters {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	for _, col := range columns {
		if expr := strings.TrimSpace(query.Filters[col]); expr != "" {
			values.Set(col, expr)
		}
	}

	rel := &url.URL{Path: c.baseURL.Path + restPrefix + url.PathEscape(table), RawQuery: values.Encode()}
	var rows []json.RawMessage
	if err := c.doURL(ctx, http.MethodGet, rel, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) doURL(ctx context.Context, method string, rel *url.URL, dest any) error {
	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("api %s returned status %d: %s", rel.Path, resp.StatusCode, msg)
		}
		return fmt.Errorf("api %s returned status %d", rel.Path, resp.StatusCode)
	}
	if dest == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("backend url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse backend url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
