// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package opensearch is a thin client over the search engine's REST
// surface: index discovery, point-in-time snapshots and paged search.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/private/retry"
)

var (
	mon = monkit.Package()

	// Error is the class of upstream client errors.
	Error = errs.Class("opensearch client")
)

// Auth modes accepted by source records.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthAPIKey = "api_key"
	AuthBearer = "bearer"
)

// pitKeepAlive is how long the engine keeps a point-in-time snapshot
// alive between search requests.
const pitKeepAlive = "1m"

// Config binds a client to one source.
type Config struct {
	BaseURL   string
	AuthType  string
	Username  string
	Secret    string
	Timeout   time.Duration
	VerifyTLS bool
	Retry     retry.Config
}

// Client talks to one upstream cluster.
type Client struct {
	log    *zap.Logger
	config Config
	http   *http.Client
}

// NewClient creates a client for the given source configuration.
func NewClient(log *zap.Logger, config Config) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !config.VerifyTLS}
	return &Client{
		log:    log,
		config: config,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// StatusError is a non-2xx response from the upstream.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return "unexpected status " + http.StatusText(e.Code) + ": " + e.Body
}

// statusCode digs a StatusError out of err, or returns 0.
func statusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

// request runs one HTTP exchange with the shared retry policy. Transport
// failures and 5xx responses are retried; 4xx responses are semantic and
// returned immediately.
func (client *Client) request(ctx context.Context, method, path string, query url.Values, body interface{}) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}

	var response []byte
	err = retry.Do(ctx, client.config.Retry, func() error {
		response, err = client.attempt(ctx, method, path, query, payload)
		return err
	})
	return response, err
}

func (client *Client) attempt(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	target := client.config.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, retry.Permanent(Error.Wrap(err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client.authorize(req)

	resp, err := client.http.Do(req)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if resp.StatusCode >= 400 {
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode < 500 {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}
	return data, nil
}

func (client *Client) authorize(req *http.Request) {
	switch strings.ToLower(strings.TrimSpace(client.config.AuthType)) {
	case AuthBasic:
		if client.config.Username != "" && client.config.Secret != "" {
			req.SetBasicAuth(client.config.Username, client.config.Secret)
		}
	case AuthAPIKey:
		if client.config.Secret != "" {
			req.Header.Set("Authorization", "ApiKey "+client.config.Secret)
		}
	case AuthBearer:
		if client.config.Secret != "" {
			req.Header.Set("Authorization", "Bearer "+client.config.Secret)
		}
	}
}

// ListIndices returns the sorted set of open index names matching the
// pattern. A 404 means the pattern matches nothing and is not an error.
func (client *Client) ListIndices(ctx context.Context, pattern string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	query := url.Values{}
	query.Set("format", "json")
	query.Set("h", "index,status")
	data, err := client.request(ctx, http.MethodGet, "/_cat/indices/"+pattern, query, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			client.log.Warn("no indices found for pattern", zap.String("pattern", pattern))
			return nil, nil
		}
		return nil, err
	}

	var rows []struct {
		Index  string `json:"index"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, Error.Wrap(err)
	}

	seen := make(map[string]bool)
	var indices []string
	for _, row := range rows {
		if row.Status == "close" || row.Index == "" || seen[row.Index] {
			continue
		}
		seen[row.Index] = true
		indices = append(indices, row.Index)
	}
	sort.Strings(indices)
	return indices, nil
}

// OpenPIT opens a point-in-time snapshot against one index.
func (client *Client) OpenPIT(ctx context.Context, indexName string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	query := url.Values{}
	query.Set("keep_alive", pitKeepAlive)
	data, err := client.request(ctx, http.MethodPost, "/"+indexName+"/_pit", query, nil)
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", Error.Wrap(err)
	}
	if result.ID == "" {
		return "", Error.New("pit id missing in response")
	}
	return result.ID, nil
}

// ClosePIT releases a snapshot. Best-effort: a single attempt, failures
// are logged and swallowed.
func (client *Client) ClosePIT(ctx context.Context, pitID string) {
	payload, err := json.Marshal(map[string]string{"id": pitID})
	if err == nil {
		_, err = client.attempt(ctx, http.MethodDelete, "/_pit", nil, payload)
	}
	if err != nil {
		client.log.Warn("failed to close PIT", zap.Error(err))
	}
}

// SearchResult is the subset of the search response the puller consumes.
type SearchResult struct {
	Hits struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Hit is one matched document.
type Hit struct {
	ID     string                 `json:"_id"`
	Index  string                 `json:"_index"`
	Source map[string]interface{} `json:"_source"`
	Sort   []interface{}          `json:"sort"`
}

// Search issues a search request. indexName is left out of the path when
// the body carries a PIT.
func (client *Client) Search(ctx context.Context, body map[string]interface{}, indexName string) (_ *SearchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	path := "/_search"
	if indexName != "" {
		path = "/" + indexName + "/_search"
	}
	data, err := client.request(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}

	var result SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, Error.Wrap(err)
	}
	return &result, nil
}
