package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultScanBatchSize = 1000

// HTTPStatusError captures non-2xx responses from the REST endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("source: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// restResponse is the envelope returned for every command.
type restResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// REST talks to Upstash Redis through its REST API. Commands are posted as a
// JSON array to the base URL.
type REST struct {
	baseURL    string
	token      string
	httpClient *http.Client
	batchSize  int
	reqTimeout time.Duration
}

type Option func(*REST)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(r *REST) {
		if httpClient != nil {
			r.httpClient = httpClient
		}
	}
}

// WithScanBatchSize sets the COUNT hint for SCAN. Non-positive values keep
// the default.
func WithScanBatchSize(n int) Option {
	return func(r *REST) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRequestTimeout bounds each REST command on its own, so a SCAN walk
// over many pages is limited per page rather than as a whole. Zero disables
// it.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *REST) { r.reqTimeout = d }
}

// NewREST creates a REST client for the given endpoint and bearer token.
func NewREST(baseURL, token string, opts ...Option) (*REST, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("source: rest url must not be empty")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("source: rest token must not be empty")
	}
	r := &REST{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		batchSize:  defaultScanBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *REST) Backend() string { return BackendREST }

func (r *REST) Connect(ctx context.Context) error {
	var pong string
	if err := r.do(ctx, &pong, "PING"); err != nil {
		return &ConnectionError{Backend: BackendREST, Op: "ping", Err: err}
	}
	return nil
}

// ListIndexKeys walks SCAN cursors until the server reports cursor 0, since
// the REST API has no KEYS equivalent. Keys returned twice by overlapping
// pages are kept once.
func (r *REST) ListIndexKeys(ctx context.Context, pattern string) ([]string, error) {
	cursor := "0"
	seen := make(map[string]struct{})
	var keys []string
	for {
		var page []json.RawMessage
		err := r.do(ctx, &page, "SCAN", cursor, "MATCH", pattern, "COUNT", strconv.Itoa(r.batchSize))
		if err != nil {
			return nil, &ConnectionError{Backend: BackendREST, Op: "scan", Err: err}
		}
		if len(page) != 2 {
			return nil, &ConnectionError{Backend: BackendREST, Op: "scan", Err: fmt.Errorf("malformed reply with %d elements", len(page))}
		}
		next, err := decodeCursor(page[0])
		if err != nil {
			return nil, &ConnectionError{Backend: BackendREST, Op: "scan", Err: err}
		}
		var batch []string
		if err := json.Unmarshal(page[1], &batch); err != nil {
			return nil, &ConnectionError{Backend: BackendREST, Op: "scan", Err: fmt.Errorf("decode keys: %w", err)}
		}
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == "0" {
			return keys, nil
		}
		cursor = next
	}
}

func (r *REST) ReadOrderedIDs(ctx context.Context, indexKey string) ([]string, error) {
	var ids []string
	if err := r.do(ctx, &ids, "ZRANGE", indexKey, "0", "-1", "REV"); err != nil {
		return nil, &ConnectionError{Backend: BackendREST, Op: "zrange", Err: err}
	}
	return ids, nil
}

// ReadRecord decodes the flat field/value array HGETALL returns over REST.
func (r *REST) ReadRecord(ctx context.Context, sessionKey string) (map[string]string, error) {
	var flat []string
	if err := r.do(ctx, &flat, "HGETALL", sessionKey); err != nil {
		return nil, &ConnectionError{Backend: BackendREST, Op: "hgetall", Err: err}
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		fields[flat[i]] = flat[i+1]
	}
	return fields, nil
}

// Close drops idle keep-alive connections.
func (r *REST) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

func (r *REST) do(ctx context.Context, out any, args ...string) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if r.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.reqTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", args[0], err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env restResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", args[0], err)
	}
	if env.Error != "" {
		return fmt.Errorf("%s: %s", args[0], env.Error)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", args[0], err)
	}
	return nil
}

// decodeCursor accepts the cursor as a JSON string or number.
func decodeCursor(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode cursor: %w", err)
	}
	return n.String(), nil
}
