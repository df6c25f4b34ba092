// Package pncp implements the client for the PNCP public procurement catalog.
package pncp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pncplab/harvester/internal/catalog"
	"github.com/pncplab/harvester/internal/policy/admission"
)

// Default endpoints of the public catalog.
const (
	DefaultSearchURL = "https://pncp.gov.br/api/search/"
	DefaultOrgBase   = "https://pncp.gov.br/api/pncp/v1/orgaos/"
)

// childPageSize bounds sub-resource pagination; the catalog returns the
// whole collection when the requested size covers it.
const childPageSize = 50

// SearchError describes a failed search page fetch. The run continues past
// it; the failed page simply contributes no records.
type SearchError struct {
	Sort         string
	DocumentType string
	Page         int
	Status       int
	Err          error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search page %d (%s/%s): %v", e.Page, e.Sort, e.DocumentType, e.Err)
	}
	return fmt.Sprintf("search page %d (%s/%s): status %d", e.Page, e.Sort, e.DocumentType, e.Status)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Config controls client behavior.
type Config struct {
	SearchURL string
	OrgBase   string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the PNCP search and compras endpoints. Every outbound
// call passes through the admission gate.
type Client struct {
	http      *http.Client
	gate      *admission.Gate
	retry     *ExponentialRetryPolicy
	searchURL string
	orgBase   string
	userAgent string
	logger    *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, gate *admission.Gate, logger *zap.Logger) *Client {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.OrgBase == "" {
		cfg.OrgBase = DefaultOrgBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		gate:      gate,
		retry:     NewExponentialRetryPolicy(),
		searchURL: cfg.SearchURL,
		orgBase:   cfg.OrgBase,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Search fetches one page of the search endpoint. The sort order and
// document type of the query are the ones actually sent; a non-2xx response
// or transport error yields a *SearchError.
func (c *Client) Search(ctx context.Context, q catalog.SearchQuery) ([]catalog.Notice, error) {
	params := url.Values{}
	params.Set("pagina", strconv.Itoa(q.Page))
	params.Set("tam_pagina", strconv.Itoa(q.PageSize))
	params.Set("ordenacao", q.Sort)
	params.Set("tipos_documento", q.DocumentType)
	params.Set("q", "")
	params.Set("status", "todos")

	body, status, err := c.get(ctx, c.searchURL+"?"+params.Encode())
	if err != nil {
		return nil, &SearchError{Sort: q.Sort, DocumentType: q.DocumentType, Page: q.Page, Status: status, Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &SearchError{Sort: q.Sort, DocumentType: q.DocumentType, Page: q.Page, Status: status}
	}

	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &SearchError{Sort: q.Sort, DocumentType: q.DocumentType, Page: q.Page, Status: status, Err: fmt.Errorf("decode page: %w", err)}
	}

	notices := make([]catalog.Notice, 0, len(page.Items))
	for _, raw := range page.Items {
		n, err := decodeNotice(raw)
		if err != nil {
			c.logger.Warn("skipping undecodable search record", zap.Error(err))
			continue
		}
		notices = append(notices, n)
	}
	return notices, nil
}

// FetchItems retrieves the line items of one purchase. Errors are returned
// tagged rather than swallowed so callers can tell a failed fetch from a
// legitimately empty collection.
func (c *Client) FetchItems(ctx context.Context, orgID string, year, seq int) ([]catalog.Item, error) {
	body, err := c.getChild(ctx, orgID, year, seq, "itens")
	if err != nil {
		return nil, fmt.Errorf("fetch items %s/%d/%d: %w", orgID, year, seq, err)
	}

	var raw []struct {
		Number      int      `json:"numeroItem"`
		Description string   `json:"descricao"`
		TotalValue  *float64 `json:"valorTotal"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode items %s/%d/%d: %w", orgID, year, seq, err)
	}

	items := make([]catalog.Item, 0, len(raw))
	for _, r := range raw {
		items = append(items, catalog.Item{
			Number:      r.Number,
			Description: r.Description,
			TotalValue:  r.TotalValue,
		})
	}
	return items, nil
}

// FetchFiles retrieves the document attachments of one purchase.
func (c *Client) FetchFiles(ctx context.Context, orgID string, year, seq int) ([]catalog.Attachment, error) {
	body, err := c.getChild(ctx, orgID, year, seq, "arquivos")
	if err != nil {
		return nil, fmt.Errorf("fetch files %s/%d/%d: %w", orgID, year, seq, err)
	}

	var raw []struct {
		Sequence int    `json:"sequencialDocumento"`
		URL      string `json:"url"`
		Title    string `json:"titulo"`
		Active   bool   `json:"statusAtivo"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode files %s/%d/%d: %w", orgID, year, seq, err)
	}

	files := make([]catalog.Attachment, 0, len(raw))
	for _, r := range raw {
		files = append(files, catalog.Attachment{
			Sequence: r.Sequence,
			URL:      r.URL,
			Title:    r.Title,
			Active:   r.Active,
		})
	}
	return files, nil
}

func (c *Client) getChild(ctx context.Context, orgID string, year, seq int, resource string) ([]byte, error) {
	params := url.Values{}
	params.Set("pagina", "1")
	params.Set("tamanhoPagina", strconv.Itoa(childPageSize))
	u := fmt.Sprintf("%s%s/compras/%d/%d/%s?%s", c.orgBase, url.PathEscape(orgID), year, seq, resource, params.Encode())

	body, status, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("status %d", status)
	}
	return body, nil
}

// get performs one catalog request with jittered retries on transient
// failures. The final attempt's body and status are returned unchanged so
// callers keep their own status handling.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	var (
		body   []byte
		status int
		err    error
	)
	for attempt := 0; ; attempt++ {
		body, status, err = c.doGet(ctx, rawURL)
		probe := err
		if probe == nil && (status == 429 || status >= 500) {
			probe = &retryableStatusError{status: status}
		}
		if probe == nil || !c.retry.ShouldRetry(probe, attempt) {
			return body, status, err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Debug("retrying catalog request",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
		)
		select {
		case <-ctx.Done():
			return body, status, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, int, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer c.gate.Release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
