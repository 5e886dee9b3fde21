// Package defra talks to a DefraDB node over its HTTP GraphQL API and
// manages a local node in Docker. It backs the optional defra job store.
package defra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnhealthy is returned when the node fails its health check.
var ErrUnhealthy = errors.New("defra health check failed")

const (
	graphQLPath = "/api/v0/graphql"
	schemaPath  = "/api/v0/schema"
	healthPath  = "/health-check"
)

// Client is a DefraDB HTTP/GraphQL client.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for the node at url.
func NewClient(url string) *Client {
	return &Client{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// URL returns the node base URL.
func (c *Client) URL() string { return c.url }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// GQLResponse is a GraphQL response body.
type GQLResponse struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []GQLError     `json:"errors,omitempty"`
}

// GQLError is one GraphQL error.
type GQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Error returns the first error message or "".
func (r *GQLResponse) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// Docs returns the documents under key, skipping anything that is not an
// object.
func (r *GQLResponse) Docs(key string) []map[string]any {
	raw, _ := r.Data[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, d := range raw {
		if m, ok := d.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// send performs one request and returns the status and body.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("defra request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read defra response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// HealthCheck reports ErrUnhealthy unless the node answers 200.
func (c *Client) HealthCheck(ctx context.Context) error {
	status, _, err := c.send(ctx, http.MethodGet, healthPath, "", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, status)
	}
	return nil
}

// Execute sends a GraphQL request. GraphQL errors are left in the response
// for the caller.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (*GQLResponse, error) {
	payload, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}
	status, data, err := c.send(ctx, http.MethodPost, graphQLPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("defra server error (status %d): %s", status, data)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("defra returned empty response (status %d)", status)
	}

	var out GQLResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w (body: %s)", err, data)
	}
	return &out, nil
}

// run executes query and turns GraphQL errors into an error tagged with op.
func (c *Client) run(ctx context.Context, op, query string) (*GQLResponse, error) {
	resp, err := c.Execute(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("%s error: %s", op, msg)
	}
	return resp, nil
}

// AddSchema registers SDL types. Types that already exist are not an error.
func (c *Client) AddSchema(ctx context.Context, schema string) error {
	status, data, err := c.send(ctx, http.MethodPost, schemaPath, "text/plain", strings.NewReader(schema))
	if err != nil {
		return err
	}
	if status == http.StatusOK || bytes.Contains(data, []byte("already exists")) {
		return nil
	}
	return fmt.Errorf("schema error (status %d): %s", status, data)
}

// Query executes a read and fails on GraphQL errors.
func (c *Client) Query(ctx context.Context, query string) (*GQLResponse, error) {
	return c.run(ctx, "query", query)
}

// Create creates a document and returns its docID.
func (c *Client) Create(ctx context.Context, collection string, input map[string]any) (string, error) {
	fields, err := mapToGraphQLInput(input)
	if err != nil {
		return "", fmt.Errorf("build %s input: %w", collection, err)
	}
	resp, err := c.run(ctx, "create",
		fmt.Sprintf(`mutation { create_%s(input: %s) { _docID } }`, collection, fields))
	if err != nil {
		return "", err
	}
	for _, doc := range resp.Docs("create_" + collection) {
		if id, _ := doc["_docID"].(string); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("create %s: no docID in response %+v", collection, resp.Data)
}

// Update patches the given fields of a document.
func (c *Client) Update(ctx context.Context, collection, docID string, input map[string]any) error {
	if err := ValidateID(docID); err != nil {
		return err
	}
	fields, err := mapToGraphQLInput(input)
	if err != nil {
		return fmt.Errorf("build %s input: %w", collection, err)
	}
	_, err = c.run(ctx, "update",
		fmt.Sprintf(`mutation { update_%s(docID: %q, input: %s) { _docID } }`, collection, docID, fields))
	return err
}

// Delete deletes a document.
func (c *Client) Delete(ctx context.Context, collection, docID string) error {
	if err := ValidateID(docID); err != nil {
		return err
	}
	_, err := c.run(ctx, "delete",
		fmt.Sprintf(`mutation { delete_%s(docID: %q) { _docID } }`, collection, docID))
	return err
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,500}$`)

// ValidateID checks that id is safe to interpolate into a GraphQL query.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid document id %q", id)
	}
	return nil
}

// mapToGraphQLInput renders input as a GraphQL object literal with keys in
// sorted order.
func mapToGraphQLInput(input map[string]any) (string, error) {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		val, err := ValueToGraphQL(input[k])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", k, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k + ": " + val)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// ValueToGraphQL renders v as a GraphQL literal. Strings use JSON escaping
// since Go's %q emits escapes GraphQL rejects.
func ValueToGraphQL(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case map[string]any:
		return mapToGraphQLInput(val)
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			s, err := ValueToGraphQL(item)
			if err != nil {
				return "", err
			}
			items[i] = s
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("marshal value: %w", err)
		}
		return string(b), nil
	}
}
